// Package plugin discovers consumer plugins and notifies them about finished
// runs. A plugin is an executable that reads one JSON Request on stdin and
// answers with one JSON Response on stdout.
package plugin

import "encoding/json"

// EventRunCompleted is sent after a run finished and its summary was written.
const EventRunCompleted = "run_completed"

// Manifest describes a plugin's metadata and the events it consumes.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Events       []string        `json:"events"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
	// Config is passed unchanged to the plugin with every request.
	Config json.RawMessage `json:"config,omitempty"`
}

// Subscribes reports whether the plugin wants event. A manifest without
// events receives all of them.
func (m Manifest) Subscribes(event string) bool {
	if len(m.Events) == 0 {
		return true
	}
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request is the notification written to a plugin's stdin.
type Request struct {
	Event     string          `json:"event"`
	RunID     string          `json:"run_id"`
	OutputDir string          `json:"output_dir,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
