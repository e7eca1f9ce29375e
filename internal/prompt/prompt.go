// Package prompt converts pixel-space annotations into the normalized,
// per-object prompts a segmentation oracle consumes.
package prompt

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultResolution is the model input resolution used to normalize coordinates.
const DefaultResolution = 1408

// ErrInvalidAnnotation is returned when an annotation cannot be encoded.
var ErrInvalidAnnotation = errors.New("invalid annotation")

// ObjectID identifies a tracked instance. Zero is reserved for background.
type ObjectID int

// Background is the label value for pixels not claimed by any object.
const Background ObjectID = 0

// MaxObjectID is the largest identity that fits in an 8-bit labeled mask.
const MaxObjectID ObjectID = 255

// Label marks a point prompt as foreground or background.
type Label int

const (
	LabelBackground Label = 0
	LabelForeground Label = 1
)

// Annotation is a user-supplied prompt in pixel coordinates.
// It is implemented by PointAnnotation and BoxAnnotation.
type Annotation interface {
	Object() ObjectID
	annotation()
}

// PointAnnotation is a single clicked point.
type PointAnnotation struct {
	X, Y  float64
	ID    ObjectID
	Label Label
}

// BoxAnnotation is an axis-aligned box given by its corners.
type BoxAnnotation struct {
	XMin, YMin float64
	XMax, YMax float64
	ID         ObjectID
}

func (p PointAnnotation) Object() ObjectID { return p.ID }
func (b BoxAnnotation) Object() ObjectID   { return b.ID }

func (PointAnnotation) annotation() {}
func (BoxAnnotation) annotation()   {}

// Kind distinguishes point prompts from box prompts.
type Kind string

const (
	KindPoint Kind = "point"
	KindBox   Kind = "box"
)

// NormalizedPrompt is an annotation expressed in [0,1] relative to the
// model input resolution. Boxes are top-left origin plus extent (xywh).
type NormalizedPrompt struct {
	Kind   Kind    `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Label  Label   `json:"label"`
}

// ObjectPrompts groups the normalized prompts of one identity.
type ObjectPrompts struct {
	Object  ObjectID           `json:"object_id"`
	Prompts []NormalizedPrompt `json:"prompts"`
}

// Points returns the point prompts as (x, y) pairs and their labels.
func (o ObjectPrompts) Points() ([][2]float64, []Label) {
	var pts [][2]float64
	var labels []Label
	for _, p := range o.Prompts {
		if p.Kind == KindPoint {
			pts = append(pts, [2]float64{p.X, p.Y})
			labels = append(labels, p.Label)
		}
	}
	return pts, labels
}

// Boxes returns the box prompts as normalized xywh quadruples.
func (o ObjectPrompts) Boxes() [][4]float64 {
	var boxes [][4]float64
	for _, p := range o.Prompts {
		if p.Kind == KindBox {
			boxes = append(boxes, [4]float64{p.X, p.Y, p.Width, p.Height})
		}
	}
	return boxes
}

// Encode normalizes annotations by resolution and groups them by object,
// in ascending object order. Annotation order within an object is preserved.
func Encode(annotations []Annotation, resolution int) ([]ObjectPrompts, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution %d must be positive", ErrInvalidAnnotation, resolution)
	}
	w := float64(resolution)

	grouped := make(map[ObjectID][]NormalizedPrompt)
	var order []ObjectID

	for i, a := range annotations {
		if a == nil {
			return nil, fmt.Errorf("%w: annotation %d is nil", ErrInvalidAnnotation, i)
		}
		id := a.Object()
		if id <= Background || id > MaxObjectID {
			return nil, fmt.Errorf("%w: annotation %d has object id %d outside [1,%d]",
				ErrInvalidAnnotation, i, id, MaxObjectID)
		}

		var np NormalizedPrompt
		switch v := a.(type) {
		case PointAnnotation:
			if !inRange(v.X, w) || !inRange(v.Y, w) {
				return nil, fmt.Errorf("%w: point (%g,%g) outside [0,%d]", ErrInvalidAnnotation, v.X, v.Y, resolution)
			}
			if v.Label != LabelBackground && v.Label != LabelForeground {
				return nil, fmt.Errorf("%w: point label %d", ErrInvalidAnnotation, v.Label)
			}
			np = NormalizedPrompt{Kind: KindPoint, X: v.X / w, Y: v.Y / w, Label: v.Label}

		case BoxAnnotation:
			width := v.XMax - v.XMin
			height := v.YMax - v.YMin
			if width <= 0 || height <= 0 {
				return nil, fmt.Errorf("%w: box [%g,%g,%g,%g] has non-positive extent",
					ErrInvalidAnnotation, v.XMin, v.YMin, v.XMax, v.YMax)
			}
			for _, c := range []float64{v.XMin, v.YMin, v.XMax, v.YMax} {
				if !inRange(c, w) {
					return nil, fmt.Errorf("%w: box [%g,%g,%g,%g] outside [0,%d]",
						ErrInvalidAnnotation, v.XMin, v.YMin, v.XMax, v.YMax, resolution)
				}
			}
			np = NormalizedPrompt{
				Kind:   KindBox,
				X:      v.XMin / w,
				Y:      v.YMin / w,
				Width:  width / w,
				Height: height / w,
				Label:  LabelForeground,
			}

		default:
			return nil, fmt.Errorf("%w: unsupported annotation type %T", ErrInvalidAnnotation, a)
		}

		if _, seen := grouped[id]; !seen {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], np)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]ObjectPrompts, 0, len(order))
	for _, id := range order {
		out = append(out, ObjectPrompts{Object: id, Prompts: grouped[id]})
	}
	return out, nil
}

// Objects returns the identities present in an encoded prompt set.
func Objects(prompts []ObjectPrompts) []ObjectID {
	ids := make([]ObjectID, len(prompts))
	for i, p := range prompts {
		ids[i] = p.Object
	}
	return ids
}

func inRange(v, w float64) bool {
	return v >= 0 && v <= w
}
