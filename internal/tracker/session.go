// Package tracker drives one oracle session through prompting and
// frame-by-frame propagation over a contiguous frame range.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrIdentityMismatch is returned when the oracle reports an identity
	// that was never prompted.
	ErrIdentityMismatch = errors.New("oracle returned unknown identity")

	// ErrRangeExhausted is returned by Step once every frame has been produced.
	ErrRangeExhausted = errors.New("frame range exhausted")
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateUninitialized State = iota
	StatePrompted
	StatePropagating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePrompted:
		return "prompted"
	case StatePropagating:
		return "propagating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Range is a contiguous run of frames starting at Start.
type Range struct {
	Start int
	Count int
}

// End returns the exclusive end frame.
func (r Range) End() int { return r.Start + r.Count }

// FrameError reports the frame at which a session failed.
type FrameError struct {
	Frame int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Result is the outcome of Run. Frames holds every completed frame in order,
// also when the run failed or was stopped.
type Result struct {
	Frames  []*oracle.FrameResult
	Failure *FrameError
	Stopped bool
}

// Session tracks a fixed set of identities over a frame range. The anchor
// frame is the first frame of the range and is itself propagated.
type Session struct {
	oracle  oracle.Session
	rng     Range
	log     logs.Log
	state   State
	objects []prompt.ObjectID
	known   map[prompt.ObjectID]bool
	cursor  int
	stopped bool
	mu      sync.Mutex
}

// New creates an uninitialized session over rng backed by an open oracle session.
func New(s oracle.Session, rng Range, log logs.Log) (*Session, error) {
	if s == nil {
		return nil, errors.New("nil oracle session")
	}
	if rng.Start < 0 || rng.Count <= 0 {
		return nil, fmt.Errorf("invalid frame range start=%d count=%d", rng.Start, rng.Count)
	}
	return &Session{
		oracle: s,
		rng:    rng,
		log:    log,
		state:  StateUninitialized,
		cursor: rng.Start,
	}, nil
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Range returns the frame range of the session.
func (s *Session) Range() Range { return s.rng }

// Objects returns the identities established at prompting, in ascending order.
func (s *Session) Objects() []prompt.ObjectID {
	return append([]prompt.ObjectID(nil), s.objects...)
}

// Cursor returns the next frame Step will request.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Prompt issues one add-prompt request per identity on the anchor frame.
// The identity set is fixed from here on.
func (s *Session) Prompt(ctx context.Context, prompts []prompt.ObjectPrompts) error {
	if err := s.expect(StateUninitialized); err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("%w: no objects to prompt", ErrInvalidState)
	}

	known := make(map[prompt.ObjectID]bool, len(prompts))
	objects := make([]prompt.ObjectID, 0, len(prompts))
	for _, p := range prompts {
		if known[p.Object] {
			return fmt.Errorf("duplicate prompts for object %d", p.Object)
		}
		known[p.Object] = true
		objects = append(objects, p.Object)
	}

	for _, p := range prompts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.oracle.AddPrompt(ctx, s.rng.Start, p); err != nil {
			s.close()
			return &FrameError{Frame: s.rng.Start, Err: err}
		}
	}

	s.mu.Lock()
	s.objects = objects
	s.known = known
	s.state = StatePrompted
	s.mu.Unlock()

	s.debugf("Session %v prompted %d objects at frame %d", s.oracle.ID(), len(objects), s.rng.Start)
	return nil
}

// Step requests the next frame for all identities at once and advances the
// cursor by one. A cancelled context or Stop is honored here, before the
// request is issued. On oracle failure the session is closed and the error
// is a *FrameError.
func (s *Session) Step(ctx context.Context) (*oracle.FrameResult, error) {
	s.mu.Lock()
	switch s.state {
	case StatePrompted:
		s.state = StatePropagating
	case StatePropagating:
	default:
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: step in state %v", ErrInvalidState, st)
	}
	if s.cursor >= s.rng.End() {
		s.mu.Unlock()
		return nil, ErrRangeExhausted
	}
	stopped := s.stopped
	frame := s.cursor
	s.mu.Unlock()

	if stopped {
		return nil, context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := s.oracle.Propagate(ctx, frame, s.objects)
	if err != nil {
		s.close()
		return nil, &FrameError{Frame: frame, Err: err}
	}

	res, err = s.normalize(frame, res)
	if err != nil {
		s.close()
		return nil, &FrameError{Frame: frame, Err: err}
	}

	s.mu.Lock()
	s.cursor++
	s.mu.Unlock()
	return res, nil
}

// normalize checks identities and orders fields as the session's identity
// list, filling absent identities with empty fields.
func (s *Session) normalize(frame int, res *oracle.FrameResult) (*oracle.FrameResult, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty response", oracle.ErrRejected)
	}
	byID := make(map[prompt.ObjectID]oracle.ObjectField, len(res.Objects))
	for _, f := range res.Objects {
		if !s.known[f.Object] {
			return nil, fmt.Errorf("%w: %d", ErrIdentityMismatch, f.Object)
		}
		byID[f.Object] = f
	}

	out := *res
	out.FrameIndex = frame
	out.Objects = make([]oracle.ObjectField, len(s.objects))
	for i, id := range s.objects {
		f, ok := byID[id]
		if !ok {
			f = oracle.ObjectField{Object: id, Width: res.Width, Height: res.Height}
		}
		out.Objects[i] = f
	}
	return &out, nil
}

// Run propagates over the remaining range, calling fn for each completed
// frame in order. It stops at the first failure, leaving the rest of the
// range unattempted, and always closes the session.
func (s *Session) Run(ctx context.Context, fn func(*oracle.FrameResult) error) (*Result, error) {
	defer s.close()

	result := &Result{}
	for {
		res, err := s.Step(ctx)
		if errors.Is(err, ErrRangeExhausted) {
			return result, nil
		}
		if err != nil {
			var fe *FrameError
			if errors.As(err, &fe) {
				result.Failure = fe
				s.errorf("Session %v failed at frame %d: %v", s.oracle.ID(), fe.Frame, fe.Err)
				return result, fe
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Stopped = true
				return result, nil
			}
			return result, err
		}

		result.Frames = append(result.Frames, res)
		if fn != nil {
			if err := fn(res); err != nil {
				return result, err
			}
		}
	}
}

// Stop requests that propagation halt before the next frame request.
// An in-flight request is not interrupted.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Close ends the session and releases the oracle session.
func (s *Session) Close() error {
	return s.close()
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()
	return s.oracle.Close()
}

func (s *Session) expect(want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return fmt.Errorf("%w: expected %v, is %v", ErrInvalidState, want, s.state)
	}
	return nil
}

func (s *Session) debugf(format string, args ...any) {
	if s.log != nil {
		s.log.Debugf(format, args...)
	}
}

func (s *Session) errorf(format string, args ...any) {
	if s.log != nil {
		s.log.Errorf(format, args...)
	}
}
