package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/ayusman/egomask/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const writeTimeout = 5 * time.Second

// ProgressHandler forwards pipeline events to WebSocket clients. A client
// may pass ?run={id} to receive the events of a single run.
type ProgressHandler struct {
	hub *app.Hub
	log logs.Log
}

// NewProgressHandler creates a new ProgressHandler on hub.
func NewProgressHandler(hub *app.Hub, log logs.Log) *ProgressHandler {
	return &ProgressHandler{hub: hub, log: log}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	// Clients only listen; reading detects when they go away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if runID != "" && ev.RunID != runID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debugf("progress client gone: %v", err)
				return
			}
		}
	}
}
