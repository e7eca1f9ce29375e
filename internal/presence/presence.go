// Package presence turns labeled masks into per-frame pixel statistics and
// a frame-level presence decision under a ratio threshold.
package presence

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/prompt"
)

// DefaultThreshold is the minimum labeled-pixel ratio for a frame to count
// as containing the target.
const DefaultThreshold = 0.01

var (
	// ErrInvalidThreshold is returned for a ratio threshold outside [0,1].
	ErrInvalidThreshold = errors.New("ratio threshold must be within [0,1]")

	// ErrDuplicateFrame is returned when a frame index occurs twice in one run.
	ErrDuplicateFrame = errors.New("duplicate frame index")

	// ErrNoTargets is returned when no target identities are given.
	ErrNoTargets = errors.New("no target identities")
)

// FrameStatistics is the pixel statistic of one labeled mask.
type FrameStatistics struct {
	FrameIndex    int
	LabeledPixels int
	TotalPixels   int
	Ratio         float64
	HasTarget     bool
}

// MaskFrame pairs a labeled mask with its absolute frame index.
type MaskFrame struct {
	Index int
	Mask  *mask.LabeledMask
}

// AnyObject returns every non-background identity, matching any labeled pixel.
func AnyObject() []prompt.ObjectID {
	ids := make([]prompt.ObjectID, 0, prompt.MaxObjectID)
	for id := prompt.ObjectID(1); id <= prompt.MaxObjectID; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Measure computes the statistic of one mask. A mask with no pixels has
// ratio zero.
func Measure(index int, m *mask.LabeledMask, targets []prompt.ObjectID, threshold float64) FrameStatistics {
	st := FrameStatistics{
		FrameIndex:    index,
		LabeledPixels: m.Count(targets),
		TotalPixels:   m.Total(),
	}
	if st.TotalPixels > 0 {
		st.Ratio = float64(st.LabeledPixels) / float64(st.TotalPixels)
	}
	st.HasTarget = st.Ratio >= threshold
	return st
}

// Analyze measures every frame and aggregates the run.
func Analyze(frames []MaskFrame, targets []prompt.ObjectID, threshold float64) (*RunSummary, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}

	stats := make([]FrameStatistics, 0, len(frames))
	for _, f := range frames {
		if f.Mask == nil {
			return nil, fmt.Errorf("frame %d has no mask", f.Index)
		}
		stats = append(stats, Measure(f.Index, f.Mask, targets, threshold))
	}
	return Decide(stats, threshold)
}

// Decide re-evaluates presence for stored statistics under threshold. Only
// the stored ratios are used, so masks need not be recomputed.
func Decide(stats []FrameStatistics, threshold float64) (*RunSummary, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}

	s := &RunSummary{
		PerFrame:  make(map[int]FrameStatistics, len(stats)),
		Threshold: threshold,
	}
	for _, st := range stats {
		if _, dup := s.PerFrame[st.FrameIndex]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateFrame, st.FrameIndex)
		}
		st.HasTarget = st.Ratio >= threshold
		s.PerFrame[st.FrameIndex] = st
		if st.HasTarget {
			s.FramesWithTarget = append(s.FramesWithTarget, st.FrameIndex)
		} else {
			s.FramesWithoutTarget = append(s.FramesWithoutTarget, st.FrameIndex)
		}
	}
	sort.Ints(s.FramesWithTarget)
	sort.Ints(s.FramesWithoutTarget)
	return s, nil
}

func checkThreshold(threshold float64) error {
	if !(threshold >= 0 && threshold <= 1) {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, threshold)
	}
	return nil
}
