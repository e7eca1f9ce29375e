// Package api provides HTTP API handlers for recorded tracking runs and
// queued jobs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/frames"
	"github.com/ayusman/egomask/internal/presence"
	"github.com/ayusman/egomask/internal/store"
)

// RunsHandler handles HTTP requests for run resources.
type RunsHandler struct {
	app *app.App
	log logs.Log
}

// NewRunsHandler creates a new RunsHandler. The app must have a store.
func NewRunsHandler(a *app.App, log logs.Log) *RunsHandler {
	return &RunsHandler{app: a, log: log}
}

// ServeHTTP routes:
//
//	GET    /api/runs
//	GET    /api/runs/{id}
//	DELETE /api/runs/{id}
//	GET    /api/runs/{id}/summary?threshold=
//	GET    /api/runs/{id}/overlay/{frame}
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "summary":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.summary(w, r, id)
	case len(parts) == 3 && parts[1] == "overlay":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.overlay(w, r, id, parts[2])
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type runResponse struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind"`
	FramesDir      string  `json:"frames_dir,omitempty"`
	OutputDir      string  `json:"output_dir"`
	StartFrame     int     `json:"start_frame"`
	FrameCount     int     `json:"frame_count"`
	Status         string  `json:"status"`
	Active         bool    `json:"active"`
	RatioThreshold float64 `json:"ratio_threshold"`
	Targets        []int   `json:"targets"`
	Error          string  `json:"error,omitempty"`
	FailedFrame    *int    `json:"failed_frame,omitempty"`
	CreatedAt      string  `json:"created_at"`
	FinishedAt     string  `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func (h *RunsHandler) toResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:             run.ID,
		Kind:           string(run.Kind),
		FramesDir:      run.FramesDir,
		OutputDir:      run.OutputDir,
		StartFrame:     run.StartFrame,
		FrameCount:     run.FrameCount,
		Status:         string(run.Status),
		Active:         h.app.IsActive(run.ID),
		RatioThreshold: run.RatioThreshold,
		Targets:        run.Targets,
		Error:          run.Error,
		FailedFrame:    run.FailedFrame,
		CreatedAt:      run.CreatedAt.Format(timeFormat),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(timeFormat)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.app.Store().Runs().List()
	if err != nil {
		h.log.Errorf("List runs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, h.toResponse(run))
	}
	writeJSON(w, http.StatusOK, response)
}

// lookup fetches run id, writing the error response itself on failure.
func (h *RunsHandler) lookup(w http.ResponseWriter, id string) (*store.Run, bool) {
	run, err := h.app.Store().Runs().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	if err != nil {
		h.log.Errorf("Get run %v: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return nil, false
	}
	return run, true
}

func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(run))
}

// delete stops an active run, or removes a finished one with its statistics.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if h.app.Cancel(id) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
		return
	}

	err := h.app.Store().Runs().Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Errorf("Delete run %v: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// summary re-evaluates the run's stored statistics. The threshold query
// parameter defaults to the one the run was recorded with.
func (h *RunsHandler) summary(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.lookup(w, id)
	if !ok {
		return
	}

	threshold := run.RatioThreshold
	if q := r.URL.Query().Get("threshold"); q != "" {
		v, err := strconv.ParseFloat(q, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid threshold")
			return
		}
		threshold = v
	}

	summary, err := h.app.Reanalyze(id, threshold)
	if errors.Is(err, presence.ErrInvalidThreshold) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("Summary of run %v: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to summarize run")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RunPalette returns the overlay colors for a run of kind.
func RunPalette(kind store.RunKind) frames.Palette {
	if kind == store.RunKindBody {
		return frames.BodyPalette
	}
	return frames.HandPalette
}

func (h *RunsHandler) overlay(w http.ResponseWriter, r *http.Request, id, frame string) {
	index, err := strconv.Atoi(frame)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "Invalid frame index")
		return
	}

	run, ok := h.lookup(w, id)
	if !ok {
		return
	}
	if run.FramesDir == "" {
		writeError(w, http.StatusNotFound, "Run has no frames")
		return
	}

	seq, err := frames.OpenSequence(run.FramesDir)
	if err != nil {
		h.log.Warnf("Overlay of run %v: %v", id, err)
		writeError(w, http.StatusNotFound, "Frames not available")
		return
	}

	data, err := frames.RenderOverlay(seq, run.OutputDir, index, RunPalette(run.Kind), frames.DefaultAlpha)
	if errors.Is(err, frames.ErrNoMask) || errors.Is(err, frames.ErrFrameOutOfRange) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("Overlay of run %v frame %d: %v", id, index, err)
		writeError(w, http.StatusInternalServerError, "Failed to render overlay")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
