package oracle

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ayusman/egomask/internal/prompt"
)

var _ Oracle = (*MockOracle)(nil)

func frameRefs(start, count int) []FrameRef {
	refs := make([]FrameRef, count)
	for i := range refs {
		refs[i] = FrameRef{Index: start + i, Path: fmt.Sprintf("%04d.jpg", start+i)}
	}
	return refs
}

func TestMockOracle_Defaults(t *testing.T) {
	m := NewMockOracle(4, 3, KindProbability)
	ctx := context.Background()

	s, err := m.Open(ctx, OpenRequest{Frames: frameRefs(10, 2)})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())

	require.NoError(t, s.AddPrompt(ctx, 10, prompt.ObjectPrompts{Object: 1}))

	res, err := s.Propagate(ctx, 11, []prompt.ObjectID{1, 2})
	require.NoError(t, err)
	require.Equal(t, 11, res.FrameIndex)
	require.Equal(t, 4, res.Width)
	require.Equal(t, 3, res.Height)
	require.Len(t, res.Objects, 2)
	for _, f := range res.Objects {
		require.True(t, f.Empty())
	}

	_, err = s.Propagate(ctx, 12, []prompt.ObjectID{1})
	require.ErrorIs(t, err, ErrRejected)

	require.NoError(t, s.Close())
	_, err = s.Propagate(ctx, 10, []prompt.ObjectID{1})
	require.ErrorIs(t, err, ErrSessionClosed)

	require.Equal(t, []int{11, 12}, m.PropagatedFrames())
}

func TestMockOracle_Scripted(t *testing.T) {
	m := NewMockOracle(2, 2, KindProbability)
	m.SetResult(5, &FrameResult{Width: 2, Height: 2, Kind: KindProbability, Objects: []ObjectField{
		{Object: 1, Width: 2, Height: 2, Values: []float32{1, 0, 0, 0}},
	}})
	m.SetError(6, ErrResourceExhausted)

	ctx := context.Background()
	s, err := m.Open(ctx, OpenRequest{Frames: frameRefs(5, 2)})
	require.NoError(t, err)

	res, err := s.Propagate(ctx, 5, []prompt.ObjectID{1})
	require.NoError(t, err)
	f, ok := res.Field(1)
	require.True(t, ok)
	require.Equal(t, float32(1), f.Values[0])

	_, err = s.Propagate(ctx, 6, []prompt.ObjectID{1})
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestEmptyResult(t *testing.T) {
	res := EmptyResult(3, 8, 6, KindOccupancy, []prompt.ObjectID{1, 2})
	require.Equal(t, 3, res.FrameIndex)
	require.Len(t, res.Objects, 2)
	_, ok := res.Field(3)
	require.False(t, ok)
}

// The compositing and analysis packages must build without cgo so they can be
// used and tested on hosts without OpenCV.
func TestPackagesWithoutOpenCV(t *testing.T) {
	core := map[string]bool{
		"github.com/ayusman/egomask/internal/oracle":   true,
		"github.com/ayusman/egomask/internal/prompt":   true,
		"github.com/ayusman/egomask/internal/mask":     true,
		"github.com/ayusman/egomask/internal/presence": true,
	}
	for _, dir := range []string{".", "../prompt", "../mask", "../presence", "../tracker"} {
		paths, err := filepath.Glob(filepath.Join(dir, "*.go"))
		require.NoError(t, err)
		require.NotEmpty(t, paths, dir)

		for _, path := range paths {
			if strings.HasSuffix(path, "_test.go") {
				continue
			}
			f, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
			require.NoError(t, err)
			for _, imp := range f.Imports {
				p, err := strconv.Unquote(imp.Path.Value)
				require.NoError(t, err)
				require.NotEqual(t, "gocv.io/x/gocv", p, path)
				require.NotEqual(t, "C", p, path)
				if strings.HasPrefix(p, "github.com/ayusman/egomask/") {
					require.True(t, core[p], "%s imports %s", path, p)
				}
			}
		}
	}
}
