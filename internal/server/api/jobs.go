package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/queue"
)

// JobsHandler submits jobs to the queue and reports their results.
type JobsHandler struct {
	queue *queue.Queue
	log   logs.Log
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(q *queue.Queue, log logs.Log) *JobsHandler {
	return &JobsHandler{queue: q, log: log}
}

// ServeHTTP routes:
//
//	GET  /api/jobs       pending count
//	POST /api/jobs       submit a job
//	GET  /api/jobs/{id}  result of a submitted job
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.pending(w, r)
		case http.MethodPost:
			h.submit(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.result(w, r, path)
}

type submitResponse struct {
	ID string `json:"id"`
}

func (h *JobsHandler) pending(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.Len()
	if err != nil {
		h.log.Errorf("Queue length: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": n})
}

// submit decodes a job over the defaults of its kind and enqueues it.
func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request) {
	var head struct {
		Kind app.Kind `json:"kind"`
	}
	body := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := body.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	job := app.NewJob(head.Kind)
	if err := json.Unmarshal(raw, &job); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job: "+err.Error())
		return
	}
	if job.Kind == app.KindHands && job.Record == nil {
		writeError(w, http.StatusBadRequest, "Hand jobs need an annotation record")
		return
	}

	id, err := h.queue.Enqueue(job)
	if errors.Is(err, app.ErrInvalidJob) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Errorf("Enqueue job: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

func (h *JobsHandler) result(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.queue.Result(id)
	if errors.Is(err, queue.ErrPending) {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "pending"})
		return
	}
	if err != nil {
		h.log.Errorf("Result of job %v: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
