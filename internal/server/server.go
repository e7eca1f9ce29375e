// Package server provides the HTTP server for browsing tracking runs and
// following their progress.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/plugin"
	"github.com/ayusman/egomask/internal/queue"
	"github.com/ayusman/egomask/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       *app.App
	Queue     *queue.Queue
	Log       logs.Log
}

// Server represents the HTTP server for the egomask application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	a := s.config.App
	if a != nil && a.Store() != nil {
		runsHandler := api.NewRunsHandler(a, s.config.Log)
		streamHandler := NewStreamHandler(a.Store(), s.config.Log)

		// /api/runs/{id}/stream is served here, everything else by the API.
		runsRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/stream") {
				streamHandler.ServeHTTP(w, r)
				return
			}
			runsHandler.ServeHTTP(w, r)
		})

		s.mux.Handle("/api/runs", runsRouter)
		s.mux.Handle("/api/runs/", runsRouter)
	}

	if a != nil {
		s.mux.Handle("/api/progress", NewProgressHandler(a.Events(), s.config.Log))
		s.mux.HandleFunc("/api/plugins", s.handlePlugins)
	}

	if s.config.Queue != nil {
		jobsHandler := api.NewJobsHandler(s.config.Queue, s.config.Log)
		s.mux.Handle("/api/jobs", jobsHandler)
		s.mux.Handle("/api/jobs/", jobsHandler)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.App != nil {
		response["active_runs"] = s.config.App.Active()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// handlePlugins lists the discovered plugin manifests.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	plugins := s.config.App.PluginManager().List()
	manifests := make([]plugin.Manifest, 0, len(plugins))
	for _, p := range plugins {
		manifests = append(manifests, p.Manifest)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"plugins": manifests})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
