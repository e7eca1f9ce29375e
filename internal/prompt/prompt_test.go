package prompt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_Box(t *testing.T) {
	out, err := Encode([]Annotation{BoxAnnotation{XMin: 100, YMin: 100, XMax: 300, YMax: 400, ID: 1}}, 1408)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, ObjectID(1), out[0].Object)

	p := out[0].Prompts[0]
	require.Equal(t, KindBox, p.Kind)
	require.InDelta(t, 0.0710, p.X, 1e-4)
	require.InDelta(t, 0.0710, p.Y, 1e-4)
	require.InDelta(t, 0.1420, p.Width, 1e-4)
	require.InDelta(t, 0.2131, p.Height, 1e-4)
}

func TestEncode_Points(t *testing.T) {
	anns := []Annotation{
		PointAnnotation{X: 704, Y: 352, ID: 2, Label: LabelForeground},
		PointAnnotation{X: 0, Y: 1408, ID: 1, Label: LabelForeground},
		PointAnnotation{X: 10, Y: 20, ID: 2, Label: LabelBackground},
	}

	out, err := Encode(anns, 1408)
	require.NoError(t, err)
	require.Equal(t, []ObjectID{1, 2}, Objects(out))

	require.Equal(t, NormalizedPrompt{Kind: KindPoint, X: 0, Y: 1, Label: LabelForeground}, out[0].Prompts[0])

	pts, labels := out[1].Points()
	require.Len(t, pts, 2)
	require.InDelta(t, 0.5, pts[0][0], 1e-9)
	require.InDelta(t, 0.25, pts[0][1], 1e-9)
	require.Equal(t, []Label{LabelForeground, LabelBackground}, labels)
	require.Empty(t, out[1].Boxes())
}

func TestEncode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		anns []Annotation
		res  int
	}{
		{"zero width box", []Annotation{BoxAnnotation{XMin: 10, YMin: 10, XMax: 10, YMax: 50, ID: 1}}, 1408},
		{"inverted box", []Annotation{BoxAnnotation{XMin: 50, YMin: 60, XMax: 70, YMax: 10, ID: 1}}, 1408},
		{"box outside", []Annotation{BoxAnnotation{XMin: 0, YMin: 0, XMax: 1500, YMax: 10, ID: 1}}, 1408},
		{"negative point", []Annotation{PointAnnotation{X: -1, Y: 5, ID: 1}}, 1408},
		{"point outside", []Annotation{PointAnnotation{X: 5, Y: 1409, ID: 1}}, 1408},
		{"background id", []Annotation{PointAnnotation{X: 5, Y: 5, ID: Background}}, 1408},
		{"id too large", []Annotation{PointAnnotation{X: 5, Y: 5, ID: 256}}, 1408},
		{"bad label", []Annotation{PointAnnotation{X: 5, Y: 5, ID: 1, Label: 3}}, 1408},
		{"nil", []Annotation{nil}, 1408},
		{"zero resolution", []Annotation{PointAnnotation{X: 0, Y: 0, ID: 1}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.anns, tt.res)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidAnnotation), "got %v", err)
		})
	}
}

func TestEncode_Empty(t *testing.T) {
	out, err := Encode(nil, DefaultResolution)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRecord_PointsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hand_coords.json")
	in := &Record{
		Mode:       ModePoints,
		FrameIndex: 0,
		Points: map[string][][2]float64{
			"right": {{640, 400}, {660, 420}},
			"left":  {},
		},
	}
	require.NoError(t, SaveRecord(path, in))

	out, err := LoadRecord(path)
	require.NoError(t, err)
	require.Equal(t, ModePoints, out.Mode)

	anns, err := out.Annotations(HandLabels)
	require.NoError(t, err)
	require.Len(t, anns, 2)
	for _, a := range anns {
		require.Equal(t, ObjectID(1), a.Object())
	}
}

func TestRecord_Boxes(t *testing.T) {
	var r Record
	require.NoError(t, r.UnmarshalJSON([]byte(`{"mode":"boxes","right":[100,100,300,400],"left":[500,120,700,380],"frame_idx":3}`)))
	require.Equal(t, 3, r.FrameIndex)

	anns, err := r.Annotations(HandLabels)
	require.NoError(t, err)
	require.Equal(t, []Annotation{
		BoxAnnotation{XMin: 500, YMin: 120, XMax: 700, YMax: 380, ID: 2},
		BoxAnnotation{XMin: 100, YMin: 100, XMax: 300, YMax: 400, ID: 1},
	}, anns)
}

func TestRecord_UnknownLabel(t *testing.T) {
	var r Record
	require.NoError(t, r.UnmarshalJSON([]byte(`{"torso":[[1,2]]}`)))

	_, err := r.Annotations(HandLabels)
	require.ErrorIs(t, err, ErrInvalidAnnotation)
}

func TestRecord_UnknownMode(t *testing.T) {
	var r Record
	require.Error(t, r.UnmarshalJSON([]byte(`{"mode":"polygons"}`)))
}
