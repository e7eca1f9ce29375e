// Package main provides a frame-list plugin. After a completed run it writes
// the frames that contain the target, one per line, next to the masks so
// downstream tooling can pick training frames without parsing the summary.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event     string          `json:"event"`
	RunID     string          `json:"run_id"`
	OutputDir string          `json:"output_dir"`
	Summary   json.RawMessage `json:"summary"`
	Config    json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config selects the list file and how frames are written.
type Config struct {
	File string `json:"file"`
	// Format is "index" (default) or "mask" for mask file names.
	Format string `json:"format"`
	// Invert lists the frames without the target instead.
	Invert bool `json:"invert"`
}

type summary struct {
	FramesWithTarget    []int `json:"frames_with_target"`
	FramesWithoutTarget []int `json:"frames_without_target"`
}

func main() {
	// Read request from stdin
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	switch req.Event {
	case "run_completed":
		path, n, err := handleRunCompleted(req)
		if err != nil {
			writeErrorResponse(fmt.Sprintf("event %s failed: %v", req.Event, err))
			return
		}
		writeSuccessResponse(map[string]any{"path": path, "frames": n})
	default:
		writeErrorResponse(fmt.Sprintf("unknown event: %s", req.Event))
	}
}

func handleRunCompleted(req Request) (string, int, error) {
	cfg := Config{File: "frames_with_target.txt", Format: "index"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return "", 0, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if req.OutputDir == "" {
		return "", 0, fmt.Errorf("output_dir is required")
	}

	var s summary
	if err := json.Unmarshal(req.Summary, &s); err != nil {
		return "", 0, fmt.Errorf("failed to parse summary: %w", err)
	}
	frames := s.FramesWithTarget
	if cfg.Invert {
		frames = s.FramesWithoutTarget
	}

	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(req.OutputDir, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, idx := range frames {
		switch cfg.Format {
		case "mask":
			fmt.Fprintf(w, "%04d.png\n", idx)
		default:
			fmt.Fprintf(w, "%d\n", idx)
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return path, len(frames), nil
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: raw})
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(msg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: msg})
}
