package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, root string, m Manifest) string {
	t.Helper()

	pluginDir := filepath.Join(root, m.Name)
	require.NoError(t, os.MkdirAll(pluginDir, 0755))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.json"), data, 0644))
	return pluginDir
}

func TestManager_Discover(t *testing.T) {
	tmpDir := t.TempDir()
	pluginDir := writeManifest(t, tmpDir, Manifest{
		Name:        "frame-list",
		Version:     "1.0.0",
		Description: "Writes frame lists",
		Executable:  "frame-list",
		Events:      []string{EventRunCompleted},
	})

	manager := NewManager(tmpDir)
	require.NoError(t, manager.Discover())

	plugins := manager.List()
	require.Len(t, plugins, 1)

	plugin := plugins[0]
	require.Equal(t, "frame-list", plugin.Manifest.Name)
	require.Equal(t, pluginDir, plugin.Path)
	require.Equal(t, filepath.Join(pluginDir, "frame-list"), plugin.Executable)
}

func TestManager_Discover_SkipsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "good", Executable: "good"})
	writeManifest(t, tmpDir, Manifest{Name: "no-exec"})

	badDir := filepath.Join(tmpDir, "bad-json")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "plugin.json"), []byte("{"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "empty"), 0755))

	manager := NewManager(tmpDir)
	require.NoError(t, manager.Discover())

	plugins := manager.List()
	require.Len(t, plugins, 1)
	require.Equal(t, "good", plugins[0].Manifest.Name)
}

func TestManager_Discover_NonExistentDir(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, manager.Discover())
	require.Empty(t, manager.List())

	manager = NewManager("")
	require.NoError(t, manager.Discover())
}

func TestManager_Get(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "alpha", Executable: "alpha"})

	manager := NewManager(tmpDir)
	require.NoError(t, manager.Discover())

	_, err := manager.Get("alpha")
	require.NoError(t, err)
	_, err = manager.Get("beta")
	require.ErrorIs(t, err, ErrPluginNotFound)
	require.Equal(t, tmpDir, manager.PluginDir())
}

func TestManager_Subscribers(t *testing.T) {
	tmpDir := t.TempDir()
	writeManifest(t, tmpDir, Manifest{Name: "b-all", Executable: "b"})
	writeManifest(t, tmpDir, Manifest{Name: "a-runs", Executable: "a", Events: []string{EventRunCompleted}})
	writeManifest(t, tmpDir, Manifest{Name: "c-other", Executable: "c", Events: []string{"something_else"}})

	manager := NewManager(tmpDir)
	require.NoError(t, manager.Discover())

	subs := manager.Subscribers(EventRunCompleted)
	require.Len(t, subs, 2)
	require.Equal(t, "a-runs", subs[0].Manifest.Name)
	require.Equal(t, "b-all", subs[1].Manifest.Name)
}
