package frames

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/prompt"
)

// DefaultAlpha is the weight of the colored mask in an overlay.
const DefaultAlpha = 0.5

// Palette maps identities to overlay colors. Unlisted labels stay black.
type Palette map[prompt.ObjectID]color.RGBA

var (
	// HandPalette colors the right hand green and the left hand red.
	HandPalette = Palette{
		1: {R: 0, G: 255, B: 0, A: 255},
		2: {R: 255, G: 0, B: 0, A: 255},
	}

	// BodyPalette colors the body cyan.
	BodyPalette = Palette{
		1: {R: 0, G: 255, B: 255, A: 255},
	}
)

// Overlay blends the colored mask over frame: frame*(1-alpha) + colors*alpha.
// The caller is responsible for closing the returned Mat.
func Overlay(frame gocv.Mat, m *mask.LabeledMask, palette Palette, alpha float64) (gocv.Mat, error) {
	if frame.Cols() != m.Width || frame.Rows() != m.Height {
		return gocv.NewMat(), fmt.Errorf("mask %dx%d does not match frame %dx%d",
			m.Width, m.Height, frame.Cols(), frame.Rows())
	}

	var lut [256][3]byte
	for id, c := range palette {
		if id > prompt.Background && id <= prompt.MaxObjectID {
			lut[id] = [3]byte{c.B, c.G, c.R}
		}
	}

	bgr := make([]byte, 3*len(m.Pix))
	for i, v := range m.Pix {
		copy(bgr[3*i:3*i+3], lut[v][:])
	}

	colored, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap colored mask: %w", err)
	}
	defer colored.Close()

	src := frame
	if frame.Channels() == 1 {
		src = gocv.NewMat()
		defer src.Close()
		gocv.CvtColor(frame, &src, gocv.ColorGrayToBGR)
	}

	out := gocv.NewMat()
	gocv.AddWeighted(src, 1-alpha, colored, alpha, 0, &out)
	return out, nil
}

// EncodeJPEG encodes an image as JPEG bytes.
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}

// ErrNoMask is returned by RenderOverlay when frame index has no mask.
var ErrNoMask = errors.New("no mask for frame")

// RenderOverlay reads frame index and its mask from masksDir and returns the
// blended overlay as JPEG bytes.
func RenderOverlay(seq *Sequence, masksDir string, index int, palette Palette, alpha float64) ([]byte, error) {
	path := MaskPath(masksDir, index)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %d", ErrNoMask, index)
		}
		return nil, err
	}
	m, err := ReadMask(path)
	if err != nil {
		return nil, err
	}

	frame, err := seq.Read(index)
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	out, err := Overlay(*frame, m, palette, alpha)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	defer out.Close()

	return EncodeJPEG(out)
}

// OverlayPath returns the file name of the overlay for frame index.
func OverlayPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("vis_%04d.jpg", index))
}

// WriteOverlays renders an overlay for every mask in masksDir whose frame
// exists in seq and writes it to outDir. It returns the number written.
func WriteOverlays(seq *Sequence, masksDir, outDir string, palette Palette, alpha float64) (int, error) {
	masks, err := ReadMasks(masksDir)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("create overlay dir: %w", err)
	}

	written := 0
	for _, mf := range masks {
		if mf.Index >= seq.Len() {
			continue
		}
		frame, err := seq.Read(mf.Index)
		if err != nil {
			return written, err
		}
		out, err := Overlay(*frame, mf.Mask, palette, alpha)
		frame.Close()
		if err != nil {
			return written, fmt.Errorf("frame %d: %w", mf.Index, err)
		}

		path := OverlayPath(outDir, mf.Index)
		ok := gocv.IMWrite(path, out)
		out.Close()
		if !ok {
			return written, fmt.Errorf("write overlay %s", path)
		}
		written++
	}
	return written, nil
}
