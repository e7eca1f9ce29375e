package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/presence"
)

// Notifier delivers run events to the subscribed plugins of a Manager.
type Notifier struct {
	manager  *Manager
	executor *Executor
	log      logs.Log
}

// NewNotifier creates a Notifier. log may be nil.
func NewNotifier(manager *Manager, executor *Executor, log logs.Log) *Notifier {
	return &Notifier{manager: manager, executor: executor, log: log}
}

// Manager returns the plugin manager.
func (n *Notifier) Manager() *Manager {
	return n.manager
}

// RunCompleted sends a run_completed event with the run summary to every
// subscribed plugin, one after the other. Plugin failures are logged and do
// not stop delivery to the rest. It returns the number of plugins that
// reported success.
func (n *Notifier) RunCompleted(ctx context.Context, runID, outputDir string, summary *presence.RunSummary) (int, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return 0, fmt.Errorf("encode summary: %w", err)
	}

	delivered := 0
	for _, p := range n.manager.Subscribers(EventRunCompleted) {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		req := &Request{
			Event:     EventRunCompleted,
			RunID:     runID,
			OutputDir: outputDir,
			Summary:   body,
			Config:    p.Manifest.Config,
		}
		resp, err := n.executor.Execute(ctx, p, req)
		if err != nil {
			n.warnf("Plugin %v: %v", p.Manifest.Name, err)
			continue
		}
		if !resp.Success {
			n.warnf("Plugin %v reported failure: %v", p.Manifest.Name, resp.Error)
			continue
		}
		n.debugf("Plugin %v notified of run %v", p.Manifest.Name, runID)
		delivered++
	}
	return delivered, nil
}

func (n *Notifier) warnf(format string, args ...any) {
	if n.log != nil {
		n.log.Warnf(format, args...)
	}
}

func (n *Notifier) debugf(format string, args ...any) {
	if n.log != nil {
		n.log.Debugf(format, args...)
	}
}
