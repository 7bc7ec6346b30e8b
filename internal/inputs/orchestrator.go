package inputs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs every source of a mode.
type Orchestrator struct {
	sources []Source
	logger  *slog.Logger
}

// NewOrchestrator creates an input orchestrator for sources.
func NewOrchestrator(sources []Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sources: sources,
		logger:  logger.With("component", "inputs"),
	}
}

// Sources returns the sources in configuration order.
func (o *Orchestrator) Sources() []Source {
	return o.sources
}

// Prepare opens every source that implements [Opener]. It stops at the
// first failure and closes the sources it already opened.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	var opened []Source
	for _, s := range o.sources {
		op, ok := s.(Opener)
		if !ok {
			continue
		}
		if err := op.Open(ctx); err != nil {
			o.release(opened)
			return fmt.Errorf("open input %s: %w", s.Name(), err)
		}
		opened = append(opened, s)
		o.logger.Debug("input opened", "source", s.Name())
	}
	return nil
}

func (o *Orchestrator) release(sources []Source) {
	for _, s := range sources {
		c, ok := s.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			o.logger.Debug("input close failed", "source", s.Name(), "error", err)
		}
	}
}

// Listen runs every source until ctx is cancelled. A source that fails
// is logged and does not stop the others. Listen returns the first
// source failure once all sources have returned, or nil when they all
// stopped for cancellation.
func (o *Orchestrator) Listen(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range o.sources {
		g.Go(func() error {
			err := s.Listen(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			o.logger.Warn("input stopped with error", "source", s.Name(), "error", err)
			return fmt.Errorf("input %s: %w", s.Name(), err)
		})
	}
	return g.Wait()
}
