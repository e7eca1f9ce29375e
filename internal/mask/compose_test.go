package mask

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

func field(id prompt.ObjectID, w, h int, values ...float32) oracle.ObjectField {
	return oracle.ObjectField{Object: id, Width: w, Height: h, Values: values}
}

func TestCompose_SinglePixel(t *testing.T) {
	vals := make([]float32, 16)
	vals[0] = 0.9
	res := &oracle.FrameResult{Width: 4, Height: 4, Objects: []oracle.ObjectField{field(1, 4, 4, vals...)}}

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, 4, m.Width)
	require.Equal(t, 4, m.Height)
	require.Equal(t, prompt.ObjectID(1), m.At(0, 0))
	require.Equal(t, 1, m.Count([]prompt.ObjectID{1}))
	require.Equal(t, 16, m.Total())
}

func TestCompose_ThresholdIsStrict(t *testing.T) {
	res := &oracle.FrameResult{Width: 2, Height: 1, Objects: []oracle.ObjectField{field(1, 2, 1, 0.5, 0.51)}}

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1}, m.Pix)
}

func TestCompose_ThresholdPrecision(t *testing.T) {
	// float32(0.3) is 0.30000001192..., just above the threshold below.
	res := &oracle.FrameResult{Width: 1, Height: 1, Objects: []oracle.ObjectField{field(1, 1, 1, 0.3)}}

	m, err := Compose(res, 0.30000001)
	require.NoError(t, err)
	require.Equal(t, []uint8{1}, m.Pix)

	m, err = Compose(res, float64(float32(0.3)))
	require.NoError(t, err)
	require.Equal(t, []uint8{0}, m.Pix)
}

func TestCompose_ArgmaxAndTies(t *testing.T) {
	res := &oracle.FrameResult{Width: 3, Height: 1, Objects: []oracle.ObjectField{
		field(2, 3, 1, 0.8, 0.7, 0.9),
		field(1, 3, 1, 0.6, 0.7, 0.95),
	}}

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	// pixel 0: 2 wins, pixel 1: tie goes to 1, pixel 2: 1 wins
	require.Equal(t, []uint8{2, 1, 1}, m.Pix)
}

func TestCompose_Degenerate(t *testing.T) {
	res := oracle.EmptyResult(5, 3, 2, oracle.KindProbability, []prompt.ObjectID{1, 2})

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, 3, m.Width)
	require.Equal(t, 2, m.Height)
	require.Equal(t, make([]uint8, 6), m.Pix)
	require.Empty(t, m.Labels())
}

func TestCompose_OccupancyCoverage(t *testing.T) {
	res := &oracle.FrameResult{Width: 3, Height: 1, Kind: oracle.KindOccupancy, Objects: []oracle.ObjectField{
		field(1, 3, 1, 0.2, 0.6, 1.0),
	}}

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1, 1}, m.Pix)
}

func TestCompose_ResamplesToFrameSize(t *testing.T) {
	res := &oracle.FrameResult{Width: 4, Height: 2, Objects: []oracle.ObjectField{
		field(1, 2, 1, 0.9, 0.1),
	}}

	m, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, []uint8{
		1, 1, 0, 0,
		1, 1, 0, 0,
	}, m.Pix)
}

func TestCompose_Idempotent(t *testing.T) {
	res := &oracle.FrameResult{Width: 2, Height: 2, Objects: []oracle.ObjectField{
		field(1, 2, 2, 0.9, 0.2, 0.6, 0.7),
		field(2, 2, 2, 0.1, 0.8, 0.6, 0.9),
	}}

	a, err := Compose(res, 0.5)
	require.NoError(t, err)
	b, err := Compose(res, 0.5)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCompose_Invalid(t *testing.T) {
	tests := []struct {
		name string
		res  *oracle.FrameResult
	}{
		{"nil", nil},
		{"zero size", &oracle.FrameResult{Width: 0, Height: 4}},
		{"background id", &oracle.FrameResult{Width: 1, Height: 1, Objects: []oracle.ObjectField{field(0, 1, 1, 1)}}},
		{"id too large", &oracle.FrameResult{Width: 1, Height: 1, Objects: []oracle.ObjectField{field(300, 1, 1, 1)}}},
		{"short values", &oracle.FrameResult{Width: 2, Height: 2, Objects: []oracle.ObjectField{field(1, 2, 2, 1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.res, 0.5)
			require.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestGrayRoundTrip(t *testing.T) {
	m := New(3, 2)
	m.Pix = []uint8{0, 1, 2, 2, 1, 0}

	back := FromGray(m.Gray())
	require.Equal(t, m, back)
	require.Equal(t, []prompt.ObjectID{1, 2}, back.Labels())
	require.Equal(t, 4, back.Count([]prompt.ObjectID{1, 2}))
	require.Equal(t, 0, back.Count(nil))
}

func TestLabeledMask_Anchor(t *testing.T) {
	// Object 1 is a ring whose centroid (2,2) is background; object 2 is one pixel.
	m := New(5, 5)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			if x != 2 || y != 2 {
				m.Pix[y*5+x] = 1
			}
		}
	}
	m.Pix[4*5+4] = 2

	x, y, ok := m.Anchor(1)
	require.True(t, ok)
	require.Equal(t, prompt.ObjectID(1), m.At(x, y))
	require.Equal(t, 1, (x-2)*(x-2)+(y-2)*(y-2))

	x, y, ok = m.Anchor(2)
	require.True(t, ok)
	require.Equal(t, [2]int{4, 4}, [2]int{x, y})

	_, _, ok = m.Anchor(3)
	require.False(t, ok)
}
