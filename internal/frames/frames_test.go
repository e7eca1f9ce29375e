package frames

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/testdata"
)

func TestOpenSequence(t *testing.T) {
	dir := t.TempDir()
	_, err := testdata.WriteFrames(dir, 5, 32, 24)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	seq, err := OpenSequence(dir)
	require.NoError(t, err)
	require.Equal(t, 5, seq.Len())

	p, err := seq.Path(2)
	require.NoError(t, err)
	require.Equal(t, "00002.jpg", filepath.Base(p))

	_, err = seq.Path(5)
	require.ErrorIs(t, err, ErrFrameOutOfRange)

	frame, err := seq.Read(0)
	require.NoError(t, err)
	defer frame.Close()
	require.Equal(t, 32, frame.Cols())
	require.Equal(t, 24, frame.Rows())
}

func TestOpenSequence_Empty(t *testing.T) {
	_, err := OpenSequence(t.TempDir())
	require.True(t, errors.Is(err, ErrNoFrames))
}

func TestSequence_Clamp(t *testing.T) {
	seq := &Sequence{paths: make([]string, 10)}

	tests := []struct {
		start, count, want int
	}{
		{0, 1000, 10},
		{3, 4, 4},
		{8, 5, 2},
		{10, 5, 0},
		{-1, 5, 0},
		{2, 0, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, seq.Clamp(tt.start, tt.count), "start=%d count=%d", tt.start, tt.count)
	}

	refs := seq.Refs(8, 5)
	require.Len(t, refs, 2)
	require.Equal(t, 8, refs[0].Index)
	require.Equal(t, 9, refs[1].Index)
}

func TestMaskWriter_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "masks")
	w, err := NewMaskWriter(dir, false)
	require.NoError(t, err)

	m := mask.New(4, 3)
	m.Pix[0] = 1
	m.Pix[5] = 2
	m.Pix[11] = 1
	require.NoError(t, w.Write(7, m))
	require.NoError(t, w.Write(3, mask.New(4, 3)))

	_, err = os.Stat(filepath.Join(dir, "0007.png"))
	require.NoError(t, err)

	got, err := ReadMask(MaskPath(dir, 7))
	require.NoError(t, err)
	require.Equal(t, m, got)

	all, err := ReadMasks(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 3, all[0].Index)
	require.Equal(t, 7, all[1].Index)
}

func TestNewMaskWriter_Existing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0000.png"), []byte("x"), 0644))

	_, err := NewMaskWriter(dir, false)
	require.ErrorIs(t, err, ErrOutputExists)

	_, err = NewMaskWriter(dir, true)
	require.NoError(t, err)
}

func TestNewMaskWriter_OverwriteRemovesStale(t *testing.T) {
	dir := t.TempDir()
	first, err := NewMaskWriter(dir, false)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, first.Write(i, mask.New(2, 2)))
	}
	notes := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0644))

	// A shorter rerun must not leave frames 2 and 3 behind.
	second, err := NewMaskWriter(dir, true)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, second.Write(i, mask.New(2, 2)))
	}

	all, err := ReadMasks(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 1, all[1].Index)

	_, err = os.Stat(notes)
	require.NoError(t, err)
}

func TestOverlay(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 2, 2, gocv.MatTypeCV8UC3)
	defer frame.Close()

	m := mask.New(2, 2)
	m.Pix[0] = 1
	m.Pix[1] = 2

	out, err := Overlay(frame, m, HandPalette, 0.5)
	require.NoError(t, err)
	defer out.Close()

	data := out.ToBytes()
	require.Len(t, data, 12)
	want := []int{
		50, 178, 50, // green over gray
		50, 50, 178, // red over gray
		50, 50, 50, // background is darkened
		50, 50, 50,
	}
	for i, v := range want {
		require.InDelta(t, v, int(data[i]), 1, "byte %d", i)
	}

	_, err = Overlay(frame, mask.New(3, 3), HandPalette, 0.5)
	require.Error(t, err)
}

func TestWriteOverlays(t *testing.T) {
	root := t.TempDir()
	framesDir := filepath.Join(root, "frames")
	masksDir := filepath.Join(root, "masks")
	visDir := filepath.Join(root, "vis")

	_, err := testdata.WriteFrames(framesDir, 3, 16, 16)
	require.NoError(t, err)
	seq, err := OpenSequence(framesDir)
	require.NoError(t, err)

	w, err := NewMaskWriter(masksDir, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(i, mask.New(16, 16)))
	}

	n, err := WriteOverlays(seq, masksDir, visDir, BodyPalette, DefaultAlpha)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, err = os.Stat(OverlayPath(visDir, 2))
	require.NoError(t, err)
}

func TestEncodeJPEG(t *testing.T) {
	frame := testdata.NewFrame(16, 16, 0)
	defer frame.Close()

	data, err := EncodeJPEG(frame)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestRenderOverlay(t *testing.T) {
	root := t.TempDir()
	framesDir := filepath.Join(root, "frames")
	masksDir := filepath.Join(root, "masks")

	_, err := testdata.WriteFrames(framesDir, 2, 16, 16)
	require.NoError(t, err)
	seq, err := OpenSequence(framesDir)
	require.NoError(t, err)

	w, err := NewMaskWriter(masksDir, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(0, mask.New(16, 16)))

	data, err := RenderOverlay(seq, masksDir, 0, HandPalette, DefaultAlpha)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	_, err = RenderOverlay(seq, masksDir, 1, HandPalette, DefaultAlpha)
	require.ErrorIs(t, err, ErrNoMask)
}
