package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ayusman/egomask/internal/prompt"
)

// Call records one request made against a MockOracle session.
type Call struct {
	Session string
	Op      string
	Frame   int
	Objects []prompt.ObjectID
	Prompts []prompt.NormalizedPrompt
}

// MockOracle is a test implementation of the Oracle interface.
// It allows tests to script per-frame results and failures.
type MockOracle struct {
	width   int
	height  int
	kind    FieldKind
	results map[int]*FrameResult
	errs    map[int]error
	openErr error
	promErr error
	calls   []Call
	mu      sync.Mutex
}

// NewMockOracle creates a MockOracle that returns degenerate results of the
// given size for every frame that has not been scripted.
func NewMockOracle(width, height int, kind FieldKind) *MockOracle {
	return &MockOracle{
		width:   width,
		height:  height,
		kind:    kind,
		results: make(map[int]*FrameResult),
		errs:    make(map[int]error),
	}
}

// SetResult sets the result returned by Propagate for a frame.
func (m *MockOracle) SetResult(frame int, res *FrameResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[frame] = res
}

// SetError sets the error returned by Propagate for a frame.
func (m *MockOracle) SetError(frame int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[frame] = err
}

// SetOpenError sets the error returned by Open.
func (m *MockOracle) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetPromptError sets the error returned by AddPrompt.
func (m *MockOracle) SetPromptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promErr = err
}

// Calls returns a copy of the recorded requests.
func (m *MockOracle) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// PropagatedFrames returns the frame index of every Propagate call, in order.
func (m *MockOracle) PropagatedFrames() []int {
	var frames []int
	for _, c := range m.Calls() {
		if c.Op == "propagate" {
			frames = append(frames, c.Frame)
		}
	}
	return frames
}

// Open starts a scripted session.
func (m *MockOracle) Open(ctx context.Context, req OpenRequest) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}

	frames := make(map[int]bool, len(req.Frames))
	for _, f := range req.Frames {
		frames[f.Index] = true
	}

	s := &mockSession{oracle: m, id: uuid.New().String(), frames: frames}
	m.calls = append(m.calls, Call{Session: s.id, Op: "open"})
	return s, nil
}

type mockSession struct {
	oracle *MockOracle
	id     string
	frames map[int]bool
	closed bool
}

func (s *mockSession) ID() string { return s.id }

func (s *mockSession) AddPrompt(ctx context.Context, frameIndex int, p prompt.ObjectPrompts) error {
	m := s.oracle
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	m.calls = append(m.calls, Call{Session: s.id, Op: "add_prompt", Frame: frameIndex,
		Objects: []prompt.ObjectID{p.Object}, Prompts: append([]prompt.NormalizedPrompt(nil), p.Prompts...)})
	if m.promErr != nil {
		return m.promErr
	}
	if !s.frames[frameIndex] {
		return fmt.Errorf("%w: frame %d not in session", ErrRejected, frameIndex)
	}
	return nil
}

func (s *mockSession) Propagate(ctx context.Context, frameIndex int, objects []prompt.ObjectID) (*FrameResult, error) {
	m := s.oracle
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	ids := append([]prompt.ObjectID(nil), objects...)
	m.calls = append(m.calls, Call{Session: s.id, Op: "propagate", Frame: frameIndex, Objects: ids})

	if err, ok := m.errs[frameIndex]; ok {
		return nil, err
	}
	if !s.frames[frameIndex] {
		return nil, fmt.Errorf("%w: frame %d not in session", ErrRejected, frameIndex)
	}
	if res, ok := m.results[frameIndex]; ok {
		out := *res
		out.FrameIndex = frameIndex
		return &out, nil
	}
	return EmptyResult(frameIndex, m.width, m.height, m.kind, ids), nil
}

func (s *mockSession) Close() error {
	m := s.oracle
	m.mu.Lock()
	defer m.mu.Unlock()

	if !s.closed {
		s.closed = true
		m.calls = append(m.calls, Call{Session: s.id, Op: "close"})
	}
	return nil
}
