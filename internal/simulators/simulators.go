// Package simulators mirrors proposed actions into simulated
// environments so a mode's decisions can be observed without, or
// alongside, real actuators.
package simulators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/thane-cortex/internal/actions"
)

// Simulator receives every action set a mode proposes. Simulate must
// not block; Run drives any background work until ctx is cancelled.
type Simulator interface {
	Name() string
	Run(ctx context.Context) error
	Simulate(acts []actions.Action)
}

// Orchestrator fans proposed actions out to a mode's simulators.
type Orchestrator struct {
	sims   []Simulator
	logger *slog.Logger
}

// NewOrchestrator creates a simulator orchestrator.
func NewOrchestrator(sims []Simulator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{sims: sims, logger: logger.With("component", "simulators")}
}

// Start runs every simulator until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range o.sims {
		g.Go(func() error {
			err := s.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			o.logger.Warn("simulator stopped with error", "simulator", s.Name(), "error", err)
			return fmt.Errorf("simulator %s: %w", s.Name(), err)
		})
	}
	return g.Wait()
}

// Promise hands acts to every simulator.
func (o *Orchestrator) Promise(acts []actions.Action) {
	if len(acts) == 0 {
		return
	}
	for _, s := range o.sims {
		s.Simulate(acts)
	}
}

// Log is a simulator that logs each action set and keeps the most
// recent ones for inspection.
type Log struct {
	logger *slog.Logger
	size   int

	mu     sync.Mutex
	recent [][]actions.Action
}

// NewLog creates a log simulator retaining up to size action sets
// (default 20).
func NewLog(size int, logger *slog.Logger) *Log {
	if size <= 0 {
		size = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{size: size, logger: logger.With("component", "simulator", "simulator", "log")}
}

// Name returns "log".
func (l *Log) Name() string { return "log" }

// Run blocks until ctx is cancelled.
func (l *Log) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Simulate records acts.
func (l *Log) Simulate(acts []actions.Action) {
	l.mu.Lock()
	l.recent = append(l.recent, append([]actions.Action(nil), acts...))
	if over := len(l.recent) - l.size; over > 0 {
		l.recent = l.recent[over:]
	}
	l.mu.Unlock()

	for _, a := range acts {
		l.logger.Info("simulated action", "type", a.Type, "value", a.Value)
	}
}

// Recent returns the retained action sets, oldest first.
func (l *Log) Recent() [][]actions.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]actions.Action(nil), l.recent...)
}
