package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/egomask/internal/frames"
	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/presence"
	"github.com/ayusman/egomask/internal/prompt"
	"github.com/ayusman/egomask/internal/store"
	"github.com/ayusman/egomask/internal/tracker"
)

// SummaryFile is the name of the run summary written next to the masks.
const SummaryFile = "summary.json"

var (
	// ErrEmptyRange is returned when the requested range holds no frames.
	ErrEmptyRange = errors.New("frame range is empty")

	// ErrNoOracle is returned when a run is requested without an oracle.
	ErrNoOracle = errors.New("no oracle configured")

	// ErrNoStore is returned by operations that need the run store.
	ErrNoStore = errors.New("no store configured")
)

// Report is the outcome of one run. Summary covers every frame that
// completed, also when the run failed or was stopped.
type Report struct {
	RunID       string
	Status      store.RunStatus
	Summary     *presence.RunSummary
	Failure     *tracker.FrameError
	SummaryPath string
}

// run carries the state of one Run call across its batches.
type run struct {
	id      string
	job     Job
	seq     *frames.Sequence
	width   int
	height  int
	writer  *frames.MaskWriter
	prompts []prompt.ObjectPrompts
	targets []prompt.ObjectID
	total   int
	stats   []presence.FrameStatistics

	// wholeFrame prompts are valid on every frame and are reused by each
	// batch. Otherwise later batches are anchored on last, the mask of the
	// previous batch's final frame.
	wholeFrame bool
	last       *mask.LabeledMask
}

// Run tracks job's frame range and blocks until it completes, fails or ctx is
// cancelled. The range is split into batches of job.BatchSize frames, each
// served by a fresh oracle session anchored on its first frame. The job's
// annotations anchor the first batch; later batches are anchored on where
// each object was in the previous batch's last mask. The first
// failing frame ends the run: later frames and batches are not attempted and
// the returned error is a *tracker.FrameError. A cancelled run returns a
// report with status stopped and no error.
func (a *App) Run(ctx context.Context, job Job) (*Report, error) {
	if a.config.Oracle == nil {
		return nil, ErrNoOracle
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	prompts, wholeFrame, err := job.prompts()
	if err != nil {
		return nil, err
	}
	targets := job.Targets
	if len(targets) == 0 {
		targets = prompt.Objects(prompts)
	}

	seq, err := frames.OpenSequence(job.FramesDir)
	if err != nil {
		return nil, err
	}
	total := seq.Clamp(job.Start, job.Count)
	if total == 0 {
		return nil, fmt.Errorf("%w: start %d with %d frames in %s", ErrEmptyRange, job.Start, seq.Len(), job.FramesDir)
	}
	// Masks match the source frames whatever resolution the oracle answers at.
	width, height, err := seq.Size(job.Start)
	if err != nil {
		return nil, err
	}
	writer, err := frames.NewMaskWriter(job.OutputDir, job.Overwrite)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:      uuid.New().String(),
		job:     job,
		seq:     seq,
		width:   width,
		height:  height,
		writer:  writer,
		prompts: prompts,
		targets: targets,
		total:   total,

		wholeFrame: wholeFrame,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.track(r.id, cancel)
	defer a.untrack(r.id)

	if err := a.recordStart(r); err != nil {
		return nil, err
	}
	a.events.Publish(Event{Type: EventRunStarted, RunID: r.id, Total: total})
	a.log.Infof("Run %v: tracking %v frames %d..%d of %v", r.id, job.Kind, job.Start, job.Start+total-1, job.FramesDir)

	report := &Report{RunID: r.id, Status: store.RunStatusCompleted}
	var runErr error

	for _, b := range batches(job.Start, total, job.BatchSize) {
		stopped, err := a.runBatch(runCtx, r, b[0], b[1])
		if err != nil {
			var fe *tracker.FrameError
			switch {
			case runCtx.Err() != nil && isCancellation(err):
				report.Status = store.RunStatusStopped
			case errors.As(err, &fe):
				report.Status = store.RunStatusFailed
				report.Failure = fe
				runErr = err
			case runCtx.Err() != nil:
				report.Status = store.RunStatusStopped
			default:
				report.Status = store.RunStatusFailed
				runErr = err
			}
			break
		}
		if stopped {
			report.Status = store.RunStatusStopped
			break
		}
	}

	summary, err := presence.Decide(r.stats, job.RatioThreshold)
	if err != nil {
		return nil, err
	}
	report.Summary = summary
	report.SummaryPath = filepath.Join(job.OutputDir, SummaryFile)
	if err := summary.WriteFile(report.SummaryPath); err != nil {
		a.log.Errorf("Run %v: write summary: %v", r.id, err)
		if runErr == nil {
			runErr = err
			report.Status = store.RunStatusFailed
		}
	}

	a.recordFinish(r.id, report, runErr)
	a.publishFinished(r, report, runErr)

	switch report.Status {
	case store.RunStatusCompleted:
		a.log.Infof("Run %v completed: %d/%d frames with target", r.id, len(summary.FramesWithTarget), summary.TotalFrames())
		if _, err := a.plugins.RunCompleted(ctx, r.id, job.OutputDir, summary); err != nil {
			a.log.Warnf("Run %v: notify plugins: %v", r.id, err)
		}
	case store.RunStatusStopped:
		a.log.Infof("Run %v stopped after %d frames", r.id, summary.TotalFrames())
	default:
		a.log.Errorf("Run %v failed after %d frames: %v", r.id, summary.TotalFrames(), runErr)
	}

	return report, runErr
}

// runBatch tracks [start, start+count) in its own oracle session.
func (a *App) runBatch(ctx context.Context, r *run, start, count int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, nil
	}

	prompts, err := r.anchorPrompts()
	if err != nil {
		return false, &tracker.FrameError{Frame: start, Err: err}
	}
	if len(prompts) == 0 {
		a.log.Infof("Run %v: no object left to track at frame %d", r.id, start)
		return a.emptyBatch(ctx, r, start, count)
	}

	sess, err := a.config.Oracle.Open(ctx, oracle.OpenRequest{Frames: r.seq.Refs(start, count)})
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return false, &tracker.FrameError{Frame: start, Err: err}
	}

	ts, err := tracker.New(sess, tracker.Range{Start: start, Count: count}, a.log)
	if err != nil {
		sess.Close()
		return false, err
	}
	if err := ts.Prompt(ctx, prompts); err != nil {
		ts.Close()
		return false, err
	}
	a.log.Debugf("Run %v: batch %d..%d prompted in session %v", r.id, start, start+count-1, sess.ID())

	result, err := ts.Run(ctx, func(res *oracle.FrameResult) error {
		return a.handleFrame(r, res)
	})
	if err != nil {
		return false, err
	}
	return result.Stopped, nil
}

// anchorPrompts returns the prompts for the next batch. Each object visible
// on the previous batch's last frame gets one foreground point at its anchor
// pixel; objects that were lost are not tracked further.
func (r *run) anchorPrompts() ([]prompt.ObjectPrompts, error) {
	if r.wholeFrame || r.last == nil {
		return r.prompts, nil
	}
	var annotations []prompt.Annotation
	for _, p := range r.prompts {
		x, y, ok := r.last.Anchor(p.Object)
		if !ok {
			continue
		}
		annotations = append(annotations, prompt.PointAnnotation{
			X: float64(x), Y: float64(y), ID: p.Object, Label: prompt.LabelForeground,
		})
	}
	if len(annotations) == 0 {
		return nil, nil
	}
	return prompt.Encode(annotations, r.job.Resolution)
}

// emptyBatch records every frame of a batch as a degenerate detection
// without consulting the oracle.
func (a *App) emptyBatch(ctx context.Context, r *run, start, count int) (bool, error) {
	for i := start; i < start+count; i++ {
		if ctx.Err() != nil {
			return true, nil
		}
		if err := a.handleFrame(r, oracle.EmptyResult(i, r.width, r.height, oracle.KindProbability, nil)); err != nil {
			return false, err
		}
	}
	return false, nil
}

// handleFrame composes, writes and measures one propagated frame.
func (a *App) handleFrame(r *run, res *oracle.FrameResult) error {
	res.Width, res.Height = r.width, r.height
	m, err := mask.Compose(res, r.job.ConfidenceThreshold)
	if err != nil {
		return &tracker.FrameError{Frame: res.FrameIndex, Err: err}
	}
	if err := r.writer.Write(res.FrameIndex, m); err != nil {
		return &tracker.FrameError{Frame: res.FrameIndex, Err: err}
	}
	r.last = m

	st := presence.Measure(res.FrameIndex, m, r.targets, r.job.RatioThreshold)
	r.stats = append(r.stats, st)
	if s := a.config.Store; s != nil {
		if err := s.Stats().Add(r.id, []presence.FrameStatistics{st}); err != nil {
			return fmt.Errorf("record frame %d: %w", res.FrameIndex, err)
		}
	}

	a.events.Publish(Event{
		Type:      EventFrame,
		RunID:     r.id,
		Frame:     res.FrameIndex,
		Completed: len(r.stats),
		Total:     r.total,
		Ratio:     st.Ratio,
		HasTarget: st.HasTarget,
	})
	return nil
}

// RunAll runs independent jobs concurrently, each with its own oracle
// sessions. A failing job does not affect the others. Reports are returned
// in job order; a job that could not start has a nil report. The error joins
// every job's error.
func (a *App) RunAll(ctx context.Context, jobs []Job) ([]*Report, error) {
	reports := make([]*Report, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	if a.config.MaxConcurrent > 0 {
		g.SetLimit(a.config.MaxConcurrent)
	}
	for i, job := range jobs {
		g.Go(func() error {
			report, err := a.Run(ctx, job)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("job %d (%s): %w", i, job.OutputDir, err)
			}
			return nil
		})
	}
	g.Wait()

	return reports, errors.Join(errs...)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *App) recordStart(r *run) error {
	s := a.config.Store
	if s == nil {
		return nil
	}
	targets := make([]int, len(r.targets))
	for i, id := range r.targets {
		targets[i] = int(id)
	}
	return s.Runs().Create(&store.Run{
		ID:             r.id,
		Kind:           store.RunKind(r.job.Kind),
		FramesDir:      r.job.FramesDir,
		OutputDir:      r.job.OutputDir,
		StartFrame:     r.job.Start,
		FrameCount:     r.total,
		RatioThreshold: r.job.RatioThreshold,
		Targets:        targets,
	})
}

func (a *App) recordFinish(runID string, report *Report, runErr error) {
	s := a.config.Store
	if s == nil {
		return
	}
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	var failed *int
	if report.Failure != nil {
		f := report.Failure.Frame
		failed = &f
	}
	if err := s.Runs().Finish(runID, report.Status, msg, failed); err != nil {
		a.log.Errorf("Run %v: record finish: %v", runID, err)
	}
}

func (a *App) publishFinished(r *run, report *Report, runErr error) {
	ev := Event{
		Type:      EventRunFinished,
		RunID:     r.id,
		Completed: len(r.stats),
		Total:     r.total,
		Status:    string(report.Status),
	}
	if report.Failure != nil {
		ev.Frame = report.Failure.Frame
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	a.events.Publish(ev)
}
