package app

import (
	"errors"
	"fmt"

	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/presence"
	"github.com/ayusman/egomask/internal/prompt"
)

// ErrInvalidJob is returned when a job's configuration is unusable.
var ErrInvalidJob = errors.New("invalid job")

// Kind selects what a job tracks.
type Kind string

const (
	KindHands Kind = "hands"
	KindBody  Kind = "body"
)

// Job defaults.
const (
	DefaultCount     = 1000
	DefaultBatchSize = 1000
)

// Job describes one tracking run over a contiguous frame range.
type Job struct {
	Kind      Kind   `json:"kind"`
	FramesDir string `json:"frames_dir"`
	OutputDir string `json:"output_dir"`
	Start     int    `json:"start"`
	Count     int    `json:"count"`

	// BatchSize bounds how many frames one oracle session holds. Each batch
	// is re-anchored on its own first frame.
	BatchSize int `json:"batch_size"`

	ConfidenceThreshold float64           `json:"confidence_threshold"`
	RatioThreshold      float64           `json:"ratio_threshold"`
	Targets             []prompt.ObjectID `json:"targets,omitempty"`
	Resolution          int               `json:"resolution"`
	Overwrite           bool              `json:"overwrite"`

	// Record is the labeling tool's annotation file. Annotations, when set,
	// take precedence and are not serialized.
	Record      *prompt.Record      `json:"record,omitempty"`
	Annotations []prompt.Annotation `json:"-"`
}

// NewJob returns a job of kind with the default thresholds and range.
func NewJob(kind Kind) Job {
	return Job{
		Kind:                kind,
		Count:               DefaultCount,
		BatchSize:           DefaultBatchSize,
		ConfidenceThreshold: mask.DefaultThreshold,
		RatioThreshold:      presence.DefaultThreshold,
		Resolution:          prompt.DefaultResolution,
	}
}

// Validate checks the job before any frame or oracle work happens.
func (j *Job) Validate() error {
	switch j.Kind {
	case KindHands, KindBody:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	if j.FramesDir == "" {
		return fmt.Errorf("%w: frames dir is required", ErrInvalidJob)
	}
	if j.OutputDir == "" {
		return fmt.Errorf("%w: output dir is required", ErrInvalidJob)
	}
	if j.Start < 0 || j.Count <= 0 {
		return fmt.Errorf("%w: frame range start=%d count=%d", ErrInvalidJob, j.Start, j.Count)
	}
	if j.BatchSize < 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidJob, j.BatchSize)
	}
	if !(j.ConfidenceThreshold >= 0 && j.ConfidenceThreshold <= 1) {
		return fmt.Errorf("%w: confidence threshold %g", ErrInvalidJob, j.ConfidenceThreshold)
	}
	if !(j.RatioThreshold >= 0 && j.RatioThreshold <= 1) {
		return fmt.Errorf("%w: ratio threshold %g", ErrInvalidJob, j.RatioThreshold)
	}
	if j.Resolution <= 0 {
		return fmt.Errorf("%w: resolution %d", ErrInvalidJob, j.Resolution)
	}
	return nil
}

// Labels returns the name-to-identity mapping used for the job's record.
func (j *Job) Labels() map[string]prompt.ObjectID {
	if j.Kind == KindBody {
		return prompt.BodyLabels
	}
	return prompt.HandLabels
}

// Prompts resolves the job's annotations and encodes them. A body job with
// no annotations is prompted with one box covering the whole frame.
func (j *Job) Prompts() ([]prompt.ObjectPrompts, error) {
	prompts, _, err := j.prompts()
	return prompts, err
}

// prompts is Prompts, also reporting whether the whole-frame default was
// used. Such prompts hold on any frame; annotations only on the one they
// were drawn on.
func (j *Job) prompts() ([]prompt.ObjectPrompts, bool, error) {
	annotations := j.Annotations
	if annotations == nil && j.Record != nil {
		var err error
		annotations, err = j.Record.Annotations(j.Labels())
		if err != nil {
			return nil, false, err
		}
	}
	wholeFrame := len(annotations) == 0
	if wholeFrame {
		if j.Kind != KindBody {
			return nil, false, fmt.Errorf("%w: no annotations", prompt.ErrInvalidAnnotation)
		}
		r := float64(j.Resolution)
		annotations = []prompt.Annotation{
			prompt.BoxAnnotation{XMin: 0, YMin: 0, XMax: r, YMax: r, ID: prompt.BodyLabels["body"]},
		}
	}
	prompts, err := prompt.Encode(annotations, j.Resolution)
	return prompts, wholeFrame, err
}

// batches splits [start, start+count) into ranges of at most size frames.
// A size of zero keeps the range whole.
func batches(start, count, size int) [][2]int {
	if size <= 0 || size > count {
		size = count
	}
	var out [][2]int
	for s := start; s < start+count; s += size {
		out = append(out, [2]int{s, min(size, start+count-s)})
	}
	return out
}
