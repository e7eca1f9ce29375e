// Package testdata generates synthetic frame sequences for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// WriteFrames writes n solid gray frames of size w x h named %05d.jpg into
// dir and returns their paths. Each frame carries a white square whose
// position moves with the frame index.
func WriteFrames(dir string, n, w, h int) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		frame := NewFrame(w, h, i)
		path := filepath.Join(dir, fmt.Sprintf("%05d.jpg", i))
		ok := gocv.IMWrite(path, frame)
		frame.Close()
		if !ok {
			return nil, fmt.Errorf("write frame %s", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// NewFrame builds one synthetic BGR frame.
// The caller is responsible for closing the returned Mat.
func NewFrame(w, h, index int) gocv.Mat {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(64, 64, 64, 0), h, w, gocv.MatTypeCV8UC3)

	side := max(min(w, h)/4, 1)
	x := (index * 2) % max(w-side, 1)
	rect := image.Rect(x, h/2-side/2, x+side, h/2+side/2)
	gocv.Rectangle(&frame, rect, color.RGBA{R: 255, G: 255, B: 255, A: 0}, -1)
	return frame
}
