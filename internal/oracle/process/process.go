// Package process implements the oracle contract with a segmentation service
// subprocess speaking newline-delimited JSON on stdin/stdout.
package process

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/prompt"
)

// Config holds configuration for the subprocess oracle.
type Config struct {
	// Python is the interpreter; empty means a venv interpreter or python3.
	Python string

	// Script is the service script; empty means search the usual locations.
	Script string

	// Args are extra arguments passed to the script.
	Args []string

	// IdleTimeout stops the service when no session has been open for this long.
	IdleTimeout time.Duration

	// KeypointThreshold is the minimum confidence of a mesh keypoint used for
	// hull projection.
	KeypointThreshold float64

	Log logs.Log
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       30 * time.Second,
		KeypointThreshold: 0.5,
	}
}

// Oracle implements oracle.Oracle by driving a segmentation service
// subprocess over newline-delimited JSON on stdin/stdout.
type Oracle struct {
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	open      int
	idleTimer *time.Timer
}

// New creates a new subprocess oracle.
// The service process is started lazily when the first session opens.
func New(config Config) (*Oracle, error) {
	script := config.Script
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, fmt.Errorf("segment_service.py not found")
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Oracle{config: config, script: script}, nil
}

type wireRequest struct {
	Type        string       `json:"type"`
	SessionID   string       `json:"session_id,omitempty"`
	Frames      []oracle.FrameRef   `json:"frames,omitempty"`
	FrameIndex  int          `json:"frame_index"`
	ObjectID    int          `json:"obj_id,omitempty"`
	ObjectIDs   []int        `json:"obj_ids,omitempty"`
	Points      [][2]float64 `json:"points,omitempty"`
	PointLabels []int        `json:"point_labels,omitempty"`
	Boxes       [][4]float64 `json:"bounding_boxes,omitempty"`
	BoxLabels   []int        `json:"bounding_box_labels,omitempty"`
}

type wireResponse struct {
	SessionID string       `json:"session_id"`
	Error     string       `json:"error"`
	Code      string       `json:"code"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Kind      string       `json:"kind"`
	Objects   []wireObject `json:"objects"`
}

type wireObject struct {
	ObjectID  int          `json:"obj_id"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Data      string       `json:"data"`
	Keypoints [][3]float64 `json:"keypoints_2d"`
}

// Open starts a service-side session over the given frames.
func (o *Oracle) Open(ctx context.Context, req oracle.OpenRequest) (oracle.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ensureStarted(); err != nil {
		return nil, err
	}

	resp, err := o.roundTrip(ctx, wireRequest{Type: "start_session", Frames: req.Frames})
	if err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("start_session: empty session id")
	}

	o.open++
	o.stopIdleTimer()
	return &processSession{oracle: o, id: resp.SessionID}, nil
}

// Close shuts down the service process.
func (o *Oracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shutdown()
}

func (o *Oracle) roundTrip(ctx context.Context, req wireRequest) (*wireResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Type, err)
	}
	line = append(line, '\n')
	if _, err := o.stdin.Write(line); err != nil {
		o.shutdown()
		return nil, fmt.Errorf("write %s: %w", req.Type, err)
	}

	reply, err := o.stdout.ReadString('\n')
	if err != nil {
		o.shutdown()
		return nil, fmt.Errorf("read %s response: %w", req.Type, err)
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(reply), &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", req.Type, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %w: %s", req.Type, codeError(resp.Code), resp.Error)
	}
	return &resp, nil
}

func codeError(code string) error {
	switch code {
	case "resource_exhausted", "oom":
		return oracle.ErrResourceExhausted
	default:
		return oracle.ErrRejected
	}
}

func (o *Oracle) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open > 0 {
		o.open--
	}
	if o.open == 0 && o.started {
		o.resetIdleTimer()
	}
}

func (o *Oracle) ensureStarted() error {
	if o.started {
		return nil
	}

	python := o.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	args := append([]string{o.script}, o.config.Args...)
	o.cmd = exec.Command(python, args...)

	stdin, err := o.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := o.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	o.cmd.Stderr = os.Stderr

	if err := o.cmd.Start(); err != nil {
		return fmt.Errorf("start segmentation service: %w", err)
	}

	o.stdin = stdin
	o.stdout = bufio.NewReader(stdout)
	o.started = true
	if o.config.Log != nil {
		o.config.Log.Infof("Started segmentation service %v (pid %v)", o.script, o.cmd.Process.Pid)
	}
	return nil
}

func (o *Oracle) shutdown() error {
	if !o.started {
		return nil
	}
	o.stopIdleTimer()

	if o.stdin != nil {
		o.stdin.Close()
	}

	err := o.cmd.Wait()
	o.started = false
	o.open = 0
	o.cmd = nil
	o.stdin = nil
	o.stdout = nil

	if o.config.Log != nil {
		o.config.Log.Infof("Stopped segmentation service")
	}
	return err
}

func (o *Oracle) stopIdleTimer() {
	if o.idleTimer != nil {
		o.idleTimer.Stop()
		o.idleTimer = nil
	}
}

func (o *Oracle) resetIdleTimer() {
	o.stopIdleTimer()
	o.idleTimer = time.AfterFunc(o.config.IdleTimeout, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.open == 0 {
			o.shutdown()
		}
	})
}

type processSession struct {
	oracle *Oracle
	id     string
	closed bool
}

func (s *processSession) ID() string { return s.id }

func (s *processSession) AddPrompt(ctx context.Context, frameIndex int, p prompt.ObjectPrompts) error {
	if s.closed {
		return oracle.ErrSessionClosed
	}

	req := wireRequest{
		Type:       "add_prompt",
		SessionID:  s.id,
		FrameIndex: frameIndex,
		ObjectID:   int(p.Object),
	}
	pts, labels := p.Points()
	req.Points = pts
	for _, l := range labels {
		req.PointLabels = append(req.PointLabels, int(l))
	}
	req.Boxes = p.Boxes()
	for range req.Boxes {
		req.BoxLabels = append(req.BoxLabels, int(prompt.LabelForeground))
	}

	o := s.oracle
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return oracle.ErrSessionClosed
	}
	_, err := o.roundTrip(ctx, req)
	return err
}

func (s *processSession) Propagate(ctx context.Context, frameIndex int, objects []prompt.ObjectID) (*oracle.FrameResult, error) {
	if s.closed {
		return nil, oracle.ErrSessionClosed
	}

	req := wireRequest{Type: "propagate", SessionID: s.id, FrameIndex: frameIndex}
	for _, id := range objects {
		req.ObjectIDs = append(req.ObjectIDs, int(id))
	}

	o := s.oracle
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil, oracle.ErrSessionClosed
	}
	resp, err := o.roundTrip(ctx, req)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return resp.toFrameResult(frameIndex, o.config.KeypointThreshold)
}

func (s *processSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	o := s.oracle
	o.mu.Lock()
	var err error
	if o.started {
		_, err = o.roundTrip(context.Background(), wireRequest{Type: "close_session", SessionID: s.id})
	}
	o.mu.Unlock()

	o.release()
	return err
}

// toFrameResult converts a propagate response. Mesh output carries projected
// keypoints whose hull is preferred; a rendered field is the fallback when
// too few keypoints are confident.
func (r *wireResponse) toFrameResult(frameIndex int, keypointThreshold float64) (*oracle.FrameResult, error) {
	kind := oracle.FieldKind(r.Kind)
	if kind == "" {
		kind = oracle.KindProbability
	}

	res := &oracle.FrameResult{
		FrameIndex: frameIndex,
		Width:      r.Width,
		Height:     r.Height,
		Kind:       kind,
		Objects:    make([]oracle.ObjectField, 0, len(r.Objects)),
	}

	for _, obj := range r.Objects {
		f := oracle.ObjectField{
			Object: prompt.ObjectID(obj.ObjectID),
			Width:  obj.Width,
			Height: obj.Height,
		}
		if f.Width == 0 || f.Height == 0 {
			f.Width, f.Height = r.Width, r.Height
		}

		if len(obj.Keypoints) > 0 {
			kps := make([]Keypoint, len(obj.Keypoints))
			for i, k := range obj.Keypoints {
				kps[i] = Keypoint{X: k[0], Y: k[1], Confidence: k[2]}
			}
			f.Values = RasterizeKeypoints(kps, f.Width, f.Height, keypointThreshold)
			res.Kind = oracle.KindOccupancy
		}
		if f.Values == nil && obj.Data != "" {
			values, err := decodeField(obj.Data, f.Width*f.Height)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", obj.ObjectID, err)
			}
			f.Values = values
		}

		res.Objects = append(res.Objects, f)
	}
	return res, nil
}

// decodeField decodes base64 little-endian float32 values.
func decodeField(data string, n int) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode field: %w", err)
	}
	if len(raw) != n*4 {
		return nil, errors.New("field size does not match dimensions")
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return values, nil
}

// encodeField is the inverse of decodeField.
func encodeField(values []float32) string {
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/segment_service.py",
		"../scripts/segment_service.py",
		filepath.Join(execDir, "scripts/segment_service.py"),
		filepath.Join(os.Getenv("HOME"), ".egomask/scripts/segment_service.py"),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".egomask/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
