package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/queue"
	"github.com/ayusman/egomask/internal/queue/queuetest"
	"github.com/ayusman/egomask/internal/store"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})

	return app.New(app.Config{Store: s, Log: logs.NewTestingLog(t)})
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		require.Equal(t, "ok", response["status"])
		require.Contains(t, response, "uptime")
		require.NotContains(t, response, "active_runs", "no active_runs without an app")
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			require.Equal(t, http.StatusMethodNotAllowed, rec.Code, "method %s", method)
		}
	})

	t.Run("reports active runs", func(t *testing.T) {
		s := New(Config{App: newTestApp(t), Log: logs.NewTestingLog(t)})

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
		active, ok := response["active_runs"].([]interface{})
		require.True(t, ok, "expected 'active_runs' array, got %v", response["active_runs"])
		require.Empty(t, active)
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/runs", "/api/jobs", "/api/progress", "/api/plugins"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestServer_Routes(t *testing.T) {
	q := queue.New(queuetest.NewMemory().Pool())
	s := New(Config{App: newTestApp(t), Queue: q, Log: logs.NewTestingLog(t)})

	tests := []struct {
		path string
		code int
	}{
		{"/api/runs", http.StatusOK},
		{"/api/runs/missing", http.StatusNotFound},
		{"/api/runs/missing/stream", http.StatusNotFound},
		{"/api/jobs", http.StatusOK},
		{"/api/jobs/unknown", http.StatusAccepted},
		{"/api/plugins", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>Hello, World!</body></html>"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644))

	cssContent := "body { color: red; }"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644))

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, testContent, rec.Body.String())
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, cssContent, rec.Body.String())
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_NoStaticDir(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandler(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(New(Config{App: a, Log: logs.NewTestingLog(t)}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/progress?run=run-2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.Events().Subscribers() == 1 },
		5*time.Second, 10*time.Millisecond, "handler never subscribed")

	a.Events().Publish(app.Event{Type: app.EventFrame, RunID: "run-1", Frame: 1})
	a.Events().Publish(app.Event{Type: app.EventFrame, RunID: "run-2", Frame: 7, Completed: 1, Total: 3})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev app.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "run-2", ev.RunID)
	require.Equal(t, 7, ev.Frame)
	require.Equal(t, 3, ev.Total)
	require.NotZero(t, ev.Timestamp)

	conn.Close()
	require.Eventually(t, func() bool { return a.Events().Subscribers() == 0 },
		5*time.Second, 10*time.Millisecond, "handler did not unsubscribe after the client left")
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		require.NotNil(t, s)
		require.Equal(t, cfg.StaticDir, s.config.StaticDir)
	})

	t.Run("server implements http.Handler", func(t *testing.T) {
		s := New(Config{})
		var _ http.Handler = s
	})
}
