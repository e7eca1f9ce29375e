// Package app runs tracking jobs end to end: it drives oracle sessions over
// frame batches, composes and writes masks, records presence statistics and
// notifies subscribers.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/oracle"
	"github.com/ayusman/egomask/internal/plugin"
	"github.com/ayusman/egomask/internal/store"
)

// DefaultPluginTimeout bounds one plugin invocation.
const DefaultPluginTimeout = 5 * time.Second

// Config holds configuration options for the application.
type Config struct {
	// Oracle serves every tracking session. Required for Run and RunAll.
	Oracle oracle.Oracle
	// Store records runs and frame statistics. Optional.
	Store *store.Store
	// PluginDir holds consumer plugins notified after completed runs. Optional.
	PluginDir     string
	PluginTimeout time.Duration
	// MaxConcurrent limits RunAll. Zero means no limit.
	MaxConcurrent int
	Log           logs.Log
}

// App orchestrates tracking runs.
type App struct {
	config  Config
	log     logs.Log
	events  *Hub
	plugins *plugin.Notifier
	active  map[string]context.CancelFunc
	mu      sync.Mutex
}

// New creates a new App instance with the given configuration. config.Log
// must be set.
func New(config Config) *App {
	timeout := config.PluginTimeout
	if timeout <= 0 {
		timeout = DefaultPluginTimeout
	}

	return &App{
		config:  config,
		log:     config.Log,
		events:  NewHub(),
		plugins: plugin.NewNotifier(plugin.NewManager(config.PluginDir), plugin.NewExecutor(timeout), config.Log),
		active:  make(map[string]context.CancelFunc),
	}
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	if err := a.plugins.Manager().Discover(); err != nil {
		return err
	}
	a.log.Infof("Discovered %d plugins in %v", len(a.plugins.Manager().List()), a.config.PluginDir)
	return nil
}

// Events returns the progress event hub.
func (a *App) Events() *Hub {
	return a.events
}

// Store returns the run store, which may be nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.plugins.Manager()
}

// Cancel stops an in-progress run before its next frame request. It reports
// whether the run was active.
func (a *App) Cancel(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	cancel, ok := a.active[runID]
	if ok {
		cancel()
	}
	return ok
}

// Active returns the IDs of in-progress runs.
func (a *App) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.active))
	for id := range a.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsActive reports whether runID is in progress.
func (a *App) IsActive(runID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[runID]
	return ok
}

func (a *App) track(runID string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[runID] = cancel
}

func (a *App) untrack(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, runID)
}
