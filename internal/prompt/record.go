package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Mode is the annotation style recorded by the labeling tool.
type Mode string

const (
	ModePoints Mode = "points"
	ModeBoxes  Mode = "boxes"
)

// HandLabels maps the labeling tool's hand names to object identities.
var HandLabels = map[string]ObjectID{"right": 1, "left": 2}

// BodyLabels maps the body label to its identity.
var BodyLabels = map[string]ObjectID{"body": 1}

// Record is an annotation file as written by the labeling tool:
//
//	{"mode": "points", "right": [[x,y],...], "left": [...], "frame_idx": 0}
//	{"mode": "boxes", "right": [x_min,y_min,x_max,y_max], "frame_idx": 0}
type Record struct {
	Mode       Mode
	FrameIndex int
	Points     map[string][][2]float64
	Boxes      map[string][4]float64
}

// UnmarshalJSON decodes the flat labeling-tool layout.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Mode = ModePoints
	if m, ok := raw["mode"]; ok {
		if err := json.Unmarshal(m, &r.Mode); err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		delete(raw, "mode")
	}
	if f, ok := raw["frame_idx"]; ok {
		if err := json.Unmarshal(f, &r.FrameIndex); err != nil {
			return fmt.Errorf("frame_idx: %w", err)
		}
		delete(raw, "frame_idx")
	}

	switch r.Mode {
	case ModePoints:
		r.Points = make(map[string][][2]float64, len(raw))
		for name, v := range raw {
			var pts [][2]float64
			if err := json.Unmarshal(v, &pts); err != nil {
				return fmt.Errorf("points for %q: %w", name, err)
			}
			r.Points[name] = pts
		}
	case ModeBoxes:
		r.Boxes = make(map[string][4]float64, len(raw))
		for name, v := range raw {
			if string(v) == "null" {
				continue
			}
			var box [4]float64
			if err := json.Unmarshal(v, &box); err != nil {
				return fmt.Errorf("box for %q: %w", name, err)
			}
			r.Boxes[name] = box
		}
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	return nil
}

// MarshalJSON encodes the record in the labeling-tool layout.
func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"mode":      r.Mode,
		"frame_idx": r.FrameIndex,
	}
	for name, pts := range r.Points {
		out[name] = pts
	}
	for name, box := range r.Boxes {
		out[name] = box
	}
	return json.Marshal(out)
}

// LoadRecord reads an annotation record from disk.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse annotations %s: %w", path, err)
	}
	return &r, nil
}

// SaveRecord writes an annotation record to disk.
func SaveRecord(path string, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Annotations converts the record into pixel-space annotations using labels
// to resolve names to identities. Names with no points are skipped.
func (r *Record) Annotations(labels map[string]ObjectID) ([]Annotation, error) {
	var names []string
	switch r.Mode {
	case ModeBoxes:
		for name := range r.Boxes {
			names = append(names, name)
		}
	default:
		for name, pts := range r.Points {
			if len(pts) > 0 {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	var out []Annotation
	for _, name := range names {
		id, ok := labels[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown label %q", ErrInvalidAnnotation, name)
		}
		if r.Mode == ModeBoxes {
			b := r.Boxes[name]
			out = append(out, BoxAnnotation{XMin: b[0], YMin: b[1], XMax: b[2], YMax: b[3], ID: id})
			continue
		}
		for _, p := range r.Points[name] {
			out = append(out, PointAnnotation{X: p[0], Y: p[1], ID: id, Label: LabelForeground})
		}
	}
	return out, nil
}
