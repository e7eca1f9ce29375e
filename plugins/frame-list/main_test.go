package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleRunCompleted(t *testing.T) {
	dir := t.TempDir()
	summary := json.RawMessage(`{"frames_with_target": [3, 4, 9], "frames_without_target": [5]}`)

	tests := []struct {
		name   string
		config string
		file   string
		want   string
	}{
		{"defaults", ``, "frames_with_target.txt", "3\n4\n9\n"},
		{"mask names", `{"file": "keep.txt", "format": "mask"}`, "keep.txt", "0003.png\n0004.png\n0009.png\n"},
		{"inverted", `{"file": "drop.txt", "invert": true}`, "drop.txt", "5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Event: "run_completed", RunID: "r", OutputDir: dir, Summary: summary}
			if tt.config != "" {
				req.Config = json.RawMessage(tt.config)
			}

			path, _, err := handleRunCompleted(req)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(dir, tt.file), path)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.Equal(t, tt.want, string(data))
		})
	}
}

func TestHandleRunCompleted_Errors(t *testing.T) {
	_, _, err := handleRunCompleted(Request{Summary: json.RawMessage(`{}`)})
	require.Error(t, err, "output_dir is required")
	_, _, err = handleRunCompleted(Request{OutputDir: t.TempDir(), Summary: json.RawMessage(`[`)})
	require.Error(t, err, "malformed summary")
}
