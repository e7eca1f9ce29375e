// Package mask composes per-object oracle fields into a single labeled mask.
package mask

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

// DefaultThreshold is the default per-pixel confidence threshold.
const DefaultThreshold = 0.5

// ErrInvalidField is returned when a field cannot be mapped onto the frame.
var ErrInvalidField = errors.New("invalid object field")

// LabeledMask assigns exactly one ObjectID to every pixel of a frame.
// Pixels are stored row-major; 0 is background.
type LabeledMask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New returns an all-background mask.
func New(width, height int) *LabeledMask {
	return &LabeledMask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the label of pixel (x, y).
func (m *LabeledMask) At(x, y int) prompt.ObjectID {
	return prompt.ObjectID(m.Pix[y*m.Width+x])
}

// Total returns the number of pixels.
func (m *LabeledMask) Total() int {
	return m.Width * m.Height
}

// Count returns the number of pixels whose label is in targets.
func (m *LabeledMask) Count(targets []prompt.ObjectID) int {
	var want [256]bool
	for _, t := range targets {
		if t > prompt.Background && t <= prompt.MaxObjectID {
			want[t] = true
		}
	}
	n := 0
	for _, v := range m.Pix {
		if want[v] {
			n++
		}
	}
	return n
}

// Labels returns the distinct non-background labels present, ascending.
func (m *LabeledMask) Labels() []prompt.ObjectID {
	var seen [256]bool
	for _, v := range m.Pix {
		seen[v] = true
	}
	var out []prompt.ObjectID
	for i := 1; i < len(seen); i++ {
		if seen[i] {
			out = append(out, prompt.ObjectID(i))
		}
	}
	return out
}

// Anchor returns the pixel of id closest to the centroid of its region, so
// the point lies on the object even when the region is not convex.
func (m *LabeledMask) Anchor(id prompt.ObjectID) (x, y int, ok bool) {
	var sx, sy, n int
	for i, v := range m.Pix {
		if prompt.ObjectID(v) == id {
			sx += i % m.Width
			sy += i / m.Width
			n++
		}
	}
	if n == 0 || id == prompt.Background {
		return 0, 0, false
	}

	cx, cy := float64(sx)/float64(n), float64(sy)/float64(n)
	best := -1.0
	for i, v := range m.Pix {
		if prompt.ObjectID(v) != id {
			continue
		}
		px, py := i%m.Width, i/m.Width
		dx, dy := float64(px)-cx, float64(py)-cy
		if d := dx*dx + dy*dy; best < 0 || d < best {
			best, x, y = d, px, py
		}
	}
	return x, y, true
}

// Gray returns the mask as an 8-bit image whose pixel values are labels.
func (m *LabeledMask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Pix)
	return img
}

// FromGray builds a mask from an 8-bit label image.
func FromGray(img *image.Gray) *LabeledMask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		copy(m.Pix[y*m.Width:(y+1)*m.Width], img.Pix[y*img.Stride:])
	}
	return m
}

// Compose labels each pixel with the identity of highest confidence, provided
// that confidence is strictly greater than threshold; otherwise the pixel is
// background. Equal confidences resolve to the lower identity. For occupancy
// fields the threshold is the minimum coverage fraction. Fields whose size
// differs from the frame are resampled with nearest-neighbour sampling.
func Compose(res *oracle.FrameResult, threshold float64) (*LabeledMask, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil frame result", ErrInvalidField)
	}
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("%w: frame %d has size %dx%d", ErrInvalidField, res.FrameIndex, res.Width, res.Height)
	}

	fields := make([]oracle.ObjectField, 0, len(res.Objects))
	for _, f := range res.Objects {
		if f.Object <= prompt.Background || f.Object > prompt.MaxObjectID {
			return nil, fmt.Errorf("%w: object id %d", ErrInvalidField, f.Object)
		}
		if f.Empty() {
			continue
		}
		if f.Width <= 0 || f.Height <= 0 || len(f.Values) != f.Width*f.Height {
			return nil, fmt.Errorf("%w: object %d has %d values for %dx%d",
				ErrInvalidField, f.Object, len(f.Values), f.Width, f.Height)
		}
		fields = append(fields, f)
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Object < fields[j].Object })

	w, h := res.Width, res.Height
	out := New(w, h)
	best := make([]float32, w*h)

	for _, f := range fields {
		label := uint8(f.Object)
		same := f.Width == w && f.Height == h
		for y := 0; y < h; y++ {
			sy := y
			if !same {
				sy = min(y*f.Height/h, f.Height-1)
			}
			for x := 0; x < w; x++ {
				sx := x
				if !same {
					sx = min(x*f.Width/w, f.Width-1)
				}
				v := f.Values[sy*f.Width+sx]
				if !(float64(v) > threshold) {
					continue
				}
				i := y*w + x
				// Ascending identity order: only a strictly greater
				// confidence displaces an earlier identity.
				if out.Pix[i] == 0 || v > best[i] {
					out.Pix[i] = label
					best[i] = v
				}
			}
		}
	}
	return out, nil
}
