package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/queue"
	"github.com/ayusman/egomask/internal/queue/queuetest"
)

func newTestJobsHandler(t *testing.T) (*JobsHandler, *queue.Queue) {
	t.Helper()
	q := queue.New(queuetest.NewMemory().Pool())
	return NewJobsHandler(q, logs.NewTestingLog(t)), q
}

func post(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJobsHandler_Submit(t *testing.T) {
	handler, q := newTestJobsHandler(t)

	body := `{
		"kind": "hands",
		"frames_dir": "/data/frames",
		"output_dir": "/data/masks",
		"start": 100,
		"record": {"mode": "points", "right": [[640, 360]], "frame_idx": 100}
	}`
	rec := post(handler, "/api/jobs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp submitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)

	req, err := q.Dequeue(0)
	require.NoError(t, err)
	require.Equal(t, resp.ID, req.ID)

	// Unset fields keep the defaults of the kind.
	require.Equal(t, app.DefaultCount, req.Job.Count)
	require.Equal(t, 100, req.Job.Start)
	require.NotNil(t, req.Job.Record)
	require.Equal(t, 100, req.Job.Record.FrameIndex)
}

func TestJobsHandler_SubmitInvalid(t *testing.T) {
	handler, q := newTestJobsHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"kind":`},
		{"unknown kind", `{"kind": "feet", "frames_dir": "/f", "output_dir": "/o"}`},
		{"missing output", `{"kind": "body", "frames_dir": "/f"}`},
		{"hands without record", `{"kind": "hands", "frames_dir": "/f", "output_dir": "/o"}`},
		{"bad threshold", `{"kind": "body", "frames_dir": "/f", "output_dir": "/o", "ratio_threshold": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(handler, "/api/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	n, err := q.Len()
	require.NoError(t, err)
	require.Zero(t, n, "nothing is queued")
}

func TestJobsHandler_PendingAndResult(t *testing.T) {
	handler, q := newTestJobsHandler(t)

	rec := post(handler, "/api/jobs", `{"kind": "body", "frames_dir": "/f", "output_dir": "/o"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	rec = serve(handler, http.MethodGet, "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pending))
	require.Equal(t, 1, pending["pending"])

	rec = serve(handler, http.MethodGet, "/api/jobs/"+resp.ID)
	require.Equal(t, http.StatusAccepted, rec.Code, "still pending")

	require.NoError(t, q.StoreResult(&queue.Result{ID: resp.ID, RunID: "run-9", Status: "completed"}))

	rec = serve(handler, http.MethodGet, "/api/jobs/"+resp.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var res queue.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, "run-9", res.RunID)
	require.Equal(t, "completed", res.Status)

	rec = serve(handler, http.MethodDelete, "/api/jobs/"+resp.ID)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
