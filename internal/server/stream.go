package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/frames"
	"github.com/ayusman/egomask/internal/server/api"
	"github.com/ayusman/egomask/internal/store"
)

// DefaultStreamFPS is the replay rate of a run stream.
const DefaultStreamFPS = 15

// StreamHandler replays a run's mask overlays as MJPEG.
type StreamHandler struct {
	store *store.Store
	log   logs.Log
}

// NewStreamHandler creates a new StreamHandler reading runs from s.
func NewStreamHandler(s *store.Store, log logs.Log) *StreamHandler {
	return &StreamHandler{store: s, log: log}
}

// ServeHTTP streams GET /api/runs/{id}/stream[?fps=N]. Frames of the run
// without a mask are skipped; the stream ends after the last frame.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/stream")
	run, err := h.store.Runs().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	fps := DefaultStreamFPS
	if q := r.URL.Query().Get("fps"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			fps = v
		}
	}

	seq, err := frames.OpenSequence(run.FramesDir)
	if err != nil {
		http.Error(w, "Frames not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	palette := api.RunPalette(run.Kind)
	interval := time.Second / time.Duration(fps)

	for index := run.StartFrame; index < run.StartFrame+run.FrameCount; index++ {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		buf, err := frames.RenderOverlay(seq, run.OutputDir, index, palette, frames.DefaultAlpha)
		if errors.Is(err, frames.ErrNoMask) {
			continue
		}
		if err != nil {
			h.log.Warnf("Stream of run %v: %v", id, err)
			return
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		w.Write(buf)
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(interval)
	}
}
