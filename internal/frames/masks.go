package frames

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/egomask/internal/mask"
	"github.com/ayusman/egomask/internal/presence"
)

// ErrOutputExists is returned when the output directory already holds masks
// and overwriting was not requested.
var ErrOutputExists = errors.New("output directory already contains masks")

// MaskPath returns the file name of the mask for frame index.
func MaskPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%04d.png", index))
}

// MaskWriter persists labeled masks as single-channel PNGs whose pixel
// values are object identities.
type MaskWriter struct {
	dir string
}

// NewMaskWriter prepares dir for writing. Existing masks are an error unless
// overwrite is set, in which case they are removed so a shorter run leaves no
// stale frames behind.
func NewMaskWriter(dir string, overwrite bool) (*MaskWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	existing, err := maskFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if !overwrite {
			return nil, fmt.Errorf("%w: %d files in %s", ErrOutputExists, len(existing), dir)
		}
		for _, p := range existing {
			if err := os.Remove(p); err != nil {
				return nil, fmt.Errorf("remove old mask: %w", err)
			}
		}
	}
	return &MaskWriter{dir: dir}, nil
}

// maskFiles lists the files of dir named like MaskPath.
func maskFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		if _, ok := maskIndex(p); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// maskIndex parses the frame index from a mask file name.
func maskIndex(path string) (int, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	index, err := strconv.Atoi(stem)
	return index, err == nil
}

// Dir returns the output directory.
func (w *MaskWriter) Dir() string { return w.dir }

// Write stores the mask of frame index.
func (w *MaskWriter) Write(index int, m *mask.LabeledMask) error {
	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, m.Pix)
	if err != nil {
		return fmt.Errorf("wrap mask %d: %w", index, err)
	}
	defer mat.Close()

	path := MaskPath(w.dir, index)
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("write mask %s", path)
	}
	return nil
}

// ReadMask loads a mask written by MaskWriter.
func ReadMask(path string) (*mask.LabeledMask, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decode mask %s", path)
	}

	m := mask.New(mat.Cols(), mat.Rows())
	copy(m.Pix, mat.ToBytes())
	return m, nil
}

// ReadMasks loads every mask in dir. The frame index is parsed from the file
// stem; files whose stem is not a number are skipped.
func ReadMasks(dir string) ([]presence.MaskFrame, error) {
	paths, err := maskFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []presence.MaskFrame
	for _, p := range paths {
		index, _ := maskIndex(p)
		m, err := ReadMask(p)
		if err != nil {
			return nil, err
		}
		out = append(out, presence.MaskFrame{Index: index, Mask: m})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no masks in %s", ErrNoFrames, dir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
