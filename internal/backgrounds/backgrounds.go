// Package backgrounds runs a mode's long-lived side tasks: work that
// should happen while the mode is active but is not driven by ticks.
package backgrounds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/thane-cortex/internal/connwatch"
)

// Background is a task that runs for as long as its mode is active.
type Background interface {
	Name() string
	Run(ctx context.Context) error
}

// Orchestrator runs a mode's backgrounds.
type Orchestrator struct {
	tasks  []Background
	logger *slog.Logger
}

// NewOrchestrator creates a background orchestrator.
func NewOrchestrator(tasks []Background, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{tasks: tasks, logger: logger.With("component", "backgrounds")}
}

// Start runs every background until ctx is cancelled. A background
// that fails is logged and does not stop the others.
func (o *Orchestrator) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, b := range o.tasks {
		g.Go(func() error {
			err := b.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			o.logger.Warn("background stopped with error", "background", b.Name(), "error", err)
			return fmt.Errorf("background %s: %w", b.Name(), err)
		})
	}
	return g.Wait()
}

// Func adapts a function into a [Background].
type Func struct {
	ID string
	Fn func(ctx context.Context) error
}

// Name returns the background identifier.
func (f Func) Name() string { return f.ID }

// Run calls Fn.
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Service is one dependency a [Watch] background probes.
type Service struct {
	Name    string
	Probe   connwatch.ProbeFunc
	Backoff connwatch.BackoffConfig
}

// Watch is a background that registers health watchers for its
// services while the mode is active and removes them when it stops.
type Watch struct {
	Manager  *connwatch.Manager
	Services []Service
}

// Name returns "connwatch".
func (w *Watch) Name() string { return "connwatch" }

// Run watches every service until ctx is cancelled.
func (w *Watch) Run(ctx context.Context) error {
	watchers := make([]*connwatch.Watcher, len(w.Services))
	for i, svc := range w.Services {
		watchers[i] = w.Manager.Watch(ctx, connwatch.WatcherConfig{
			Name:    svc.Name,
			Probe:   svc.Probe,
			Backoff: svc.Backoff,
		})
	}

	<-ctx.Done()

	for i, svc := range w.Services {
		w.Manager.Unwatch(svc.Name, watchers[i])
	}
	return nil
}
