package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/events"
)

// Tick results recorded in the ticks_total metric.
const (
	tickIdle       = "idle"
	tickSwitched   = "switched"
	tickNoDecision = "no_decision"
	tickDecision   = "decision"
	tickError      = "error"
)

var tickResults = []string{tickIdle, tickSwitched, tickNoDecision, tickDecision, tickError}

// runTick runs one tick and records its outcome. A failed tick is
// logged and reported; the error is returned so the caller can back
// off.
func (s *Supervisor) runTick(ctx context.Context) error {
	start := time.Now()
	result, err := s.tick(ctx)
	if err != nil {
		result = tickError
	}
	s.metrics.observeTick(result, time.Since(start))

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("tick failed", "mode", s.runtime.Mode, "error", err)
		s.bus.Emit(events.SourceSupervisor, events.KindTickError, map[string]any{
			"mode":  s.runtime.Mode,
			"error": err.Error(),
		})
	}
	return err
}

// tick runs one sense, fuse, decide and act cycle: flush finished
// actions, fuse them with fresh input into a prompt, let the tracker
// check for a switch, ask the decision engine, and promise its actions.
func (s *Supervisor) tick(ctx context.Context) (string, error) {
	if !s.initialized {
		return tickIdle, nil
	}
	rc := s.runtime

	finished, pending := s.actions.FlushPromises()
	prompt, ok := s.fuser.Fuse(rc.Inputs, finished)
	if !ok {
		return tickIdle, nil
	}

	if to, switched := s.tracker.Evaluate(s.trigger.Take()); switched {
		s.logger.Debug("tick pre-empted by mode switch", "from", rc.Mode, "to", to)
		return tickSwitched, nil
	}

	if rc.Cortex == nil {
		return tickNoDecision, nil
	}
	s.logger.Log(ctx, config.LevelTrace, "asking cortex", "mode", rc.Mode, "pending", pending, "prompt", prompt)
	out, err := rc.Cortex.Ask(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("ask cortex: %w", err)
	}
	if out == nil || len(out.Actions) == 0 {
		return tickNoDecision, nil
	}

	if s.simulators != nil {
		s.simulators.Promise(out.Actions)
	}
	s.actions.Promise(out.Actions)
	s.logger.Debug("actions promised", "mode", rc.Mode, "actions", len(out.Actions))
	return tickDecision, nil
}
