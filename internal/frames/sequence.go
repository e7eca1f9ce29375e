// Package frames reads source frame sequences and reads and writes labeled
// mask images using GoCV (OpenCV).
package frames

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/egomask/internal/oracle"
)

// ErrFrameOutOfRange is returned when a frame index is not in the sequence.
var ErrFrameOutOfRange = errors.New("frame index out of range")

// ErrNoFrames is returned when a directory holds no frames.
var ErrNoFrames = errors.New("no frames found")

// frameExts are the file extensions recognized as source frames.
var frameExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Sequence is an ordered directory of frame images. A frame's index is its
// position in lexical file order.
type Sequence struct {
	dir   string
	paths []string
}

// OpenSequence lists the frames of dir.
func OpenSequence(dir string) (*Sequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(paths)

	return &Sequence{dir: dir, paths: paths}, nil
}

// Dir returns the frames directory.
func (s *Sequence) Dir() string { return s.dir }

// Len returns the number of frames.
func (s *Sequence) Len() int { return len(s.paths) }

// Path returns the file of frame index.
func (s *Sequence) Path(index int) (string, error) {
	if index < 0 || index >= len(s.paths) {
		return "", fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, index, len(s.paths))
	}
	return s.paths[index], nil
}

// Clamp limits [start, start+count) to the frames that exist and returns the
// resulting count. Zero means nothing is left to process.
func (s *Sequence) Clamp(start, count int) int {
	if start < 0 || start >= len(s.paths) || count <= 0 {
		return 0
	}
	return min(start+count, len(s.paths)) - start
}

// Refs returns the frame references of [start, start+count), clamped.
func (s *Sequence) Refs(start, count int) []oracle.FrameRef {
	n := s.Clamp(start, count)
	refs := make([]oracle.FrameRef, n)
	for i := range refs {
		refs[i] = oracle.FrameRef{Index: start + i, Path: s.paths[start+i]}
	}
	return refs
}

// Read decodes frame index as a BGR image.
// The caller is responsible for closing the returned Mat.
func (s *Sequence) Read(index int) (*gocv.Mat, error) {
	path, err := s.Path(index)
	if err != nil {
		return nil, err
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode frame %s", path)
	}
	return &mat, nil
}

// Size returns the dimensions of frame index.
func (s *Sequence) Size(index int) (width, height int, err error) {
	mat, err := s.Read(index)
	if err != nil {
		return 0, 0, err
	}
	defer mat.Close()
	return mat.Cols(), mat.Rows(), nil
}
