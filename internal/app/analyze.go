package app

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ayusman/egomask/internal/frames"
	"github.com/ayusman/egomask/internal/presence"
	"github.com/ayusman/egomask/internal/prompt"
	"github.com/ayusman/egomask/internal/store"
)

// AnalyzeRequest describes a presence analysis of masks already on disk.
type AnalyzeRequest struct {
	MasksDir string
	// Targets defaults to every non-background identity.
	Targets   []prompt.ObjectID
	Threshold float64
	// SummaryPath defaults to SummaryFile inside MasksDir.
	SummaryPath string
}

// Analyze measures every mask in req.MasksDir and writes the run summary.
// When a store is configured the analysis is recorded as a run, so it can
// be re-evaluated later with Reanalyze.
func (a *App) Analyze(ctx context.Context, req AnalyzeRequest) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets := req.Targets
	if len(targets) == 0 {
		targets = presence.AnyObject()
	}

	masks, err := frames.ReadMasks(req.MasksDir)
	if err != nil {
		return nil, err
	}
	summary, err := presence.Analyze(masks, targets, req.Threshold)
	if err != nil {
		return nil, err
	}

	path := req.SummaryPath
	if path == "" {
		path = filepath.Join(req.MasksDir, SummaryFile)
	}
	if err := summary.WriteFile(path); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       uuid.New().String(),
		Status:      store.RunStatusCompleted,
		Summary:     summary,
		SummaryPath: path,
	}
	if err := a.recordAnalysis(report, req, targets); err != nil {
		return nil, err
	}

	a.log.Infof("Analysis %v: %d/%d frames with target (%.1f%%) at threshold %g",
		report.RunID, len(summary.FramesWithTarget), summary.TotalFrames(), 100*summary.PresenceRatio(), req.Threshold)
	return report, nil
}

func (a *App) recordAnalysis(report *Report, req AnalyzeRequest, targets []prompt.ObjectID) error {
	s := a.config.Store
	if s == nil {
		return nil
	}

	ids := make([]int, len(targets))
	for i, id := range targets {
		ids[i] = int(id)
	}
	run := &store.Run{
		ID:             report.RunID,
		Kind:           store.RunKindAnalysis,
		OutputDir:      req.MasksDir,
		RatioThreshold: req.Threshold,
		Targets:        ids,
	}
	if start, end, ok := report.Summary.FrameRange(); ok {
		run.StartFrame = start
		run.FrameCount = end - start + 1
	}
	if err := s.Runs().Create(run); err != nil {
		return err
	}
	if err := s.Stats().Add(run.ID, report.Summary.Statistics()); err != nil {
		return err
	}
	return s.Runs().Finish(run.ID, store.RunStatusCompleted, "", nil)
}

// Reanalyze re-evaluates a recorded run's presence decision under threshold
// from the stored ratios, without reading any mask.
func (a *App) Reanalyze(runID string, threshold float64) (*presence.RunSummary, error) {
	s := a.config.Store
	if s == nil {
		return nil, ErrNoStore
	}
	if _, err := s.Runs().GetByID(runID); err != nil {
		return nil, err
	}
	return s.Stats().Summary(runID, threshold)
}
