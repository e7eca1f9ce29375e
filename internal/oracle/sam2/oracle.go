package sam2

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/up-zero/gotool/imageutil"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

// carryThreshold is the probability above which a pixel counts toward the
// centroid carried to the next frame.
const carryThreshold = 0.5

// Oracle runs SAM2 in process. It has no video memory, so each identity is
// carried between frames by re-prompting with the centroid of its previous
// mask.
type Oracle struct {
	config Config
	engine *engine
	mu     sync.Mutex
}

// New loads the encoder and decoder models.
func New(cfg Config) (*Oracle, error) {
	if cfg.Resolution <= 0 {
		cfg.Resolution = prompt.DefaultResolution
	}
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Oracle{config: cfg, engine: e}, nil
}

// Close releases the ONNX sessions.
func (o *Oracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.engine.destroy()
}

// Open starts a session over the given frames.
func (o *Oracle) Open(ctx context.Context, req oracle.OpenRequest) (oracle.Session, error) {
	frames := make(map[int]string, len(req.Frames))
	for _, f := range req.Frames {
		frames[f.Index] = f.Path
	}
	return &session{
		oracle:  o,
		id:      uuid.New().String(),
		frames:  frames,
		prompts: make(map[prompt.ObjectID]anchor),
		carry:   make(map[prompt.ObjectID]*point),
		load:    imageutil.Open,
	}, nil
}

type anchor struct {
	frame  int
	points []point
}

type session struct {
	oracle  *Oracle
	id      string
	frames  map[int]string
	prompts map[prompt.ObjectID]anchor
	carry   map[prompt.ObjectID]*point
	load    func(string) (image.Image, error)
	closed  bool
}

func (s *session) ID() string { return s.id }

func (s *session) AddPrompt(ctx context.Context, frameIndex int, p prompt.ObjectPrompts) error {
	if s.closed {
		return oracle.ErrSessionClosed
	}
	if _, ok := s.frames[frameIndex]; !ok {
		return fmt.Errorf("%w: frame %d not in session", oracle.ErrRejected, frameIndex)
	}
	pts := toPoints(p, float32(s.oracle.config.Resolution))
	if len(pts) == 0 {
		return fmt.Errorf("%w: object %d has no prompts", oracle.ErrRejected, p.Object)
	}
	s.prompts[p.Object] = anchor{frame: frameIndex, points: pts}
	delete(s.carry, p.Object)
	return nil
}

func (s *session) Propagate(ctx context.Context, frameIndex int, objects []prompt.ObjectID) (*oracle.FrameResult, error) {
	if s.closed {
		return nil, oracle.ErrSessionClosed
	}
	path, ok := s.frames[frameIndex]
	if !ok {
		return nil, fmt.Errorf("%w: frame %d not in session", oracle.ErrRejected, frameIndex)
	}
	for _, id := range objects {
		if _, ok := s.prompts[id]; !ok {
			return nil, fmt.Errorf("%w: object %d was never prompted", oracle.ErrRejected, id)
		}
	}

	img, err := s.load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load frame %d: %v", oracle.ErrRejected, frameIndex, err)
	}
	bounds := img.Bounds()
	res := oracle.EmptyResult(frameIndex, bounds.Dx(), bounds.Dy(), oracle.KindProbability, objects)

	s.oracle.mu.Lock()
	defer s.oracle.mu.Unlock()

	ictx, err := s.oracle.engine.encode(img)
	if err != nil {
		return nil, err
	}
	defer ictx.destroy()

	for i, id := range objects {
		pts := s.pointsFor(id, frameIndex)
		if len(pts) == 0 {
			continue
		}
		probs, err := ictx.decode(pts)
		if err != nil {
			return nil, err
		}
		res.Objects[i].Values = probs

		if cx, cy, ok := centroid(probs, res.Width, carryThreshold); ok {
			s.carry[id] = &point{X: cx, Y: cy, Label: labelForeground}
		} else {
			s.carry[id] = nil
		}
	}
	return res, nil
}

// pointsFor returns the anchor prompts on the anchor frame and the carried
// centroid elsewhere. A lost identity yields no points.
func (s *session) pointsFor(id prompt.ObjectID, frameIndex int) []point {
	a := s.prompts[id]
	if a.frame == frameIndex {
		return a.points
	}
	if c, ok := s.carry[id]; ok {
		if c == nil {
			return nil
		}
		return []point{*c}
	}
	return a.points
}

func (s *session) Close() error {
	s.closed = true
	s.prompts = nil
	s.carry = nil
	return nil
}

// toPoints denormalizes prompts into decoder points. Boxes become a pair of
// corner points.
func toPoints(p prompt.ObjectPrompts, resolution float32) []point {
	var pts []point
	for _, np := range p.Prompts {
		x := float32(np.X) * resolution
		y := float32(np.Y) * resolution
		switch np.Kind {
		case prompt.KindBox:
			pts = append(pts,
				point{X: x, Y: y, Label: labelBoxTopLeft},
				point{X: x + float32(np.Width)*resolution, Y: y + float32(np.Height)*resolution, Label: labelBoxBotRight},
			)
		default:
			label := int64(labelForeground)
			if np.Label == prompt.LabelBackground {
				label = labelBackground
			}
			pts = append(pts, point{X: x, Y: y, Label: label})
		}
	}
	return pts
}
