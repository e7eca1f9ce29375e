package sam2

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

var _ oracle.Oracle = (*Oracle)(nil)

func TestToPoints(t *testing.T) {
	p := prompt.ObjectPrompts{
		Object: 1,
		Prompts: []prompt.NormalizedPrompt{
			{Kind: prompt.KindPoint, X: 0.5, Y: 0.25, Label: prompt.LabelForeground},
			{Kind: prompt.KindPoint, X: 0.1, Y: 0.1, Label: prompt.LabelBackground},
			{Kind: prompt.KindBox, X: 0.25, Y: 0.5, Width: 0.25, Height: 0.125},
		},
	}

	pts := toPoints(p, 1000)
	require.Equal(t, []point{
		{X: 500, Y: 250, Label: labelForeground},
		{X: 100, Y: 100, Label: labelBackground},
		{X: 250, Y: 500, Label: labelBoxTopLeft},
		{X: 500, Y: 625, Label: labelBoxBotRight},
	}, pts)
}

func TestUpscaleProbabilities(t *testing.T) {
	logits := make([]float32, 4*4)
	logits[0] = 10
	logits[1] = -10

	out := upscaleProbabilities(logits, 4, 2, 2, 4, 4)
	require.Len(t, out, 16)
	require.Greater(t, out[0], float32(0.99))
	require.Less(t, out[2], float32(0.01))
	require.InDelta(t, 0.5, out[15], 1e-6)
}

func TestCentroid(t *testing.T) {
	values := []float32{
		0, 0, 0,
		0, 1, 1,
		0, 1, 1,
	}
	cx, cy, ok := centroid(values, 3, 0.5)
	require.True(t, ok)
	require.InDelta(t, 1.5, cx, 1e-6)
	require.InDelta(t, 1.5, cy, 1e-6)

	_, _, ok = centroid(make([]float32, 9), 3, 0.5)
	require.False(t, ok)
}

func TestNormalizeAndPad(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	data := normalizeAndPad(img, 4, 4)
	require.Len(t, data, 3*16)
	require.InDelta(t, (1-meanR)/stdR, data[0], 1e-5)
	require.InDelta(t, (0-meanR)/stdR, data[1], 1e-5)
	require.Equal(t, float32(0), data[15])
}

func TestSession_Rejections(t *testing.T) {
	o := &Oracle{config: DefaultConfig()}
	s, err := o.Open(context.Background(), oracle.OpenRequest{Frames: []oracle.FrameRef{{Index: 3, Path: "0003.jpg"}}})
	require.NoError(t, err)

	ctx := context.Background()
	err = s.AddPrompt(ctx, 4, prompt.ObjectPrompts{Object: 1})
	require.ErrorIs(t, err, oracle.ErrRejected)

	err = s.AddPrompt(ctx, 3, prompt.ObjectPrompts{Object: 1})
	require.ErrorIs(t, err, oracle.ErrRejected)

	_, err = s.Propagate(ctx, 3, []prompt.ObjectID{1})
	require.ErrorIs(t, err, oracle.ErrRejected)

	require.NoError(t, s.Close())
	_, err = s.Propagate(ctx, 3, []prompt.ObjectID{1})
	require.ErrorIs(t, err, oracle.ErrSessionClosed)
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("Failed to allocate memory for buffer"))
	require.ErrorIs(t, err, oracle.ErrResourceExhausted)

	err = classify(errors.New("invalid input name"))
	require.False(t, errors.Is(err, oracle.ErrResourceExhausted))
}
