// Package oracle defines the contract with the external promptable
// segmentation service and provides a scripted mock. Backends live in the
// process and sam2 subpackages.
package oracle

import (
	"context"
	"errors"

	"github.com/ayusman/egomask/internal/prompt"
)

var (
	// ErrRejected is returned when the oracle refuses a request.
	ErrRejected = errors.New("oracle rejected request")

	// ErrResourceExhausted is returned when the oracle runs out of memory or capacity.
	ErrResourceExhausted = errors.New("oracle resource exhausted")

	// ErrSessionClosed is returned when a closed session handle is used.
	ErrSessionClosed = errors.New("oracle session closed")
)

// FieldKind describes how to interpret the values of an ObjectField.
type FieldKind string

const (
	// KindProbability is a per-pixel instance probability in [0,1].
	KindProbability FieldKind = "probability"
	// KindOccupancy is the fraction of a pixel covered by a projected body mesh.
	KindOccupancy FieldKind = "occupancy"
)

// ObjectField is the per-pixel confidence of one identity on one frame.
// A field with no values is zero everywhere.
type ObjectField struct {
	Object prompt.ObjectID
	Width  int
	Height int
	Values []float32
}

// Empty reports whether the field carries no signal.
func (f ObjectField) Empty() bool {
	return len(f.Values) == 0
}

// FrameResult is the oracle's output for every tracked identity on one frame.
type FrameResult struct {
	FrameIndex int
	Width      int
	Height     int
	Kind       FieldKind
	Objects    []ObjectField
}

// Field returns the field for id, if present.
func (r *FrameResult) Field(id prompt.ObjectID) (ObjectField, bool) {
	for _, f := range r.Objects {
		if f.Object == id {
			return f, true
		}
	}
	return ObjectField{}, false
}

// EmptyResult builds a degenerate result in which every identity is absent.
func EmptyResult(frameIndex, width, height int, kind FieldKind, objects []prompt.ObjectID) *FrameResult {
	res := &FrameResult{
		FrameIndex: frameIndex,
		Width:      width,
		Height:     height,
		Kind:       kind,
		Objects:    make([]ObjectField, len(objects)),
	}
	for i, id := range objects {
		res.Objects[i] = ObjectField{Object: id, Width: width, Height: height}
	}
	return res
}

// FrameRef locates one source frame by its absolute index.
type FrameRef struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// OpenRequest describes the frames a new session may address.
type OpenRequest struct {
	Frames []FrameRef
}

// Oracle opens tracking sessions over a frame sequence.
type Oracle interface {
	Open(ctx context.Context, req OpenRequest) (Session, error)
}

// Session is one oracle-side tracking context. A session is owned by a
// single tracker and is not safe for concurrent use.
type Session interface {
	// ID returns the oracle-assigned session identifier.
	ID() string

	// AddPrompt establishes or refines an identity on the given frame.
	AddPrompt(ctx context.Context, frameIndex int, prompts prompt.ObjectPrompts) error

	// Propagate returns the fields of all requested identities on one frame.
	Propagate(ctx context.Context, frameIndex int, objects []prompt.ObjectID) (*FrameResult, error)

	// Close releases the oracle-side session.
	Close() error
}
