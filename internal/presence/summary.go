package presence

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// RunSummary aggregates FrameStatistics over a run.
type RunSummary struct {
	FramesWithTarget    []int
	FramesWithoutTarget []int
	PerFrame            map[int]FrameStatistics
	Threshold           float64
}

// TotalFrames returns the number of analyzed frames.
func (s *RunSummary) TotalFrames() int {
	return len(s.PerFrame)
}

// PresenceRatio is the fraction of frames that contain the target.
func (s *RunSummary) PresenceRatio() float64 {
	if len(s.PerFrame) == 0 {
		return 0
	}
	return float64(len(s.FramesWithTarget)) / float64(len(s.PerFrame))
}

// FrameRange returns the lowest and highest analyzed frame index.
func (s *RunSummary) FrameRange() (start, end int, ok bool) {
	first := true
	for idx := range s.PerFrame {
		if first || idx < start {
			start = idx
		}
		if first || idx > end {
			end = idx
		}
		first = false
	}
	return start, end, !first
}

// Statistics returns the per-frame statistics in frame order.
func (s *RunSummary) Statistics() []FrameStatistics {
	out := make([]FrameStatistics, 0, len(s.PerFrame))
	for _, st := range s.PerFrame {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out
}

// Reevaluate returns a new summary for the same statistics under threshold.
func (s *RunSummary) Reevaluate(threshold float64) (*RunSummary, error) {
	return Decide(s.Statistics(), threshold)
}

type jsonFrameDetail struct {
	LabeledPixels int     `json:"labeled_pixel_count"`
	TotalPixels   int     `json:"total_pixel_count"`
	Ratio         float64 `json:"ratio"`
	HasTarget     bool    `json:"has_target"`
}

type jsonFrameRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type jsonStatistics struct {
	TotalFrames         int             `json:"total_frame_count"`
	FramesWithTarget    int             `json:"frames_with_target"`
	FramesWithoutTarget int             `json:"frames_without_target"`
	PresenceRatio       float64         `json:"presence_ratio"`
	Threshold           float64         `json:"threshold_used"`
	FrameRange          *jsonFrameRange `json:"frame_range,omitempty"`
}

type jsonSummary struct {
	FramesWithTarget    []int                      `json:"frames_with_target"`
	FramesWithoutTarget []int                      `json:"frames_without_target"`
	FrameDetails        map[string]jsonFrameDetail `json:"frame_details"`
	Statistics          jsonStatistics             `json:"statistics"`
}

// MarshalJSON encodes the run summary file layout.
func (s *RunSummary) MarshalJSON() ([]byte, error) {
	js := jsonSummary{
		FramesWithTarget:    nonNil(s.FramesWithTarget),
		FramesWithoutTarget: nonNil(s.FramesWithoutTarget),
		FrameDetails:        make(map[string]jsonFrameDetail, len(s.PerFrame)),
		Statistics: jsonStatistics{
			TotalFrames:         s.TotalFrames(),
			FramesWithTarget:    len(s.FramesWithTarget),
			FramesWithoutTarget: len(s.FramesWithoutTarget),
			PresenceRatio:       s.PresenceRatio(),
			Threshold:           s.Threshold,
		},
	}
	for idx, st := range s.PerFrame {
		js.FrameDetails[strconv.Itoa(idx)] = jsonFrameDetail{
			LabeledPixels: st.LabeledPixels,
			TotalPixels:   st.TotalPixels,
			Ratio:         st.Ratio,
			HasTarget:     st.HasTarget,
		}
	}
	if start, end, ok := s.FrameRange(); ok {
		js.Statistics.FrameRange = &jsonFrameRange{Start: start, End: end}
	}
	return json.Marshal(js)
}

// UnmarshalJSON decodes the run summary file layout.
func (s *RunSummary) UnmarshalJSON(data []byte) error {
	var js jsonSummary
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}

	s.FramesWithTarget = js.FramesWithTarget
	s.FramesWithoutTarget = js.FramesWithoutTarget
	s.Threshold = js.Statistics.Threshold
	s.PerFrame = make(map[int]FrameStatistics, len(js.FrameDetails))
	for key, d := range js.FrameDetails {
		idx, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("frame_details key %q: %w", key, err)
		}
		s.PerFrame[idx] = FrameStatistics{
			FrameIndex:    idx,
			LabeledPixels: d.LabeledPixels,
			TotalPixels:   d.TotalPixels,
			Ratio:         d.Ratio,
			HasTarget:     d.HasTarget,
		}
	}
	return nil
}

// WriteFile writes the summary as indented JSON.
func (s *RunSummary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile loads a summary written by WriteFile.
func ReadFile(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &RunSummary{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return s, nil
}

func nonNil(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
