package supervisor

import (
	"context"
	"errors"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/backgrounds"
	"github.com/nugget/thane-cortex/internal/fuser"
	"github.com/nugget/thane-cortex/internal/inputs"
	"github.com/nugget/thane-cortex/internal/modes"
	"github.com/nugget/thane-cortex/internal/simulators"
)

// task is one running orchestrator goroutine.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// spawn runs fn on its own goroutine under a context derived from the
// Run context. A task that returns before it is cancelled is reported
// on s.exits.
func (s *Supervisor) spawn(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	s.tasks = append(s.tasks, t)

	go func() {
		t.err = fn(ctx)
		close(t.done)
		if ctx.Err() != nil {
			return
		}
		select {
		case s.exits <- t:
		case <-s.stopped:
		}
	}()
}

func (s *Supervisor) taskExited(t *task) {
	if t.err != nil {
		s.logger.Warn("task exited with error", "task", t.name, "error", t.err)
		return
	}
	s.logger.Info("task exited", "task", t.name)
}

// initializeMode loads name's components and replaces the runtime
// wiring with them. On error the current wiring is left untouched.
func (s *Supervisor) initializeMode(name string) error {
	def, ok := s.sys.Modes[name]
	if !ok {
		return &ConfigurationError{Mode: name}
	}
	comps, err := def.LoadComponents(s.sys)
	if err != nil {
		return err
	}
	s.applyRuntime(def.ToRuntimeConfig(s.sys, comps))
	s.logger.Debug("mode initialized", "mode", name,
		"inputs", len(comps.Inputs),
		"actions", len(comps.Actions),
		"simulators", len(comps.Simulators),
		"backgrounds", len(comps.Backgrounds),
	)
	return nil
}

// applyRuntime installs rc together with a fresh fuser and fresh
// orchestrators built from it. The simulator and background
// orchestrators stay nil when rc has none. A nil rc clears everything.
func (s *Supervisor) applyRuntime(rc *modes.RuntimeConfig) {
	var (
		fu   *fuser.Fuser
		acts *actions.Orchestrator
		sims *simulators.Orchestrator
		bgs  *backgrounds.Orchestrator
	)
	if rc != nil {
		fu = fuser.New(rc.Mode, rc.Description, rc.Actions)
		acts = actions.NewOrchestrator(actions.OrchestratorConfig{
			Bindings: rc.Actions,
			Workers:  s.workers,
			Logger:   s.logger,
		})
		if len(rc.Simulators) > 0 {
			sims = simulators.NewOrchestrator(rc.Simulators, s.logger)
		}
		if len(rc.Backgrounds) > 0 {
			bgs = backgrounds.NewOrchestrator(rc.Backgrounds, s.logger)
		}
	}

	s.mu.Lock()
	s.runtime = rc
	s.fuser = fu
	s.actions = acts
	s.simulators = sims
	s.backgrounds = bgs
	s.initialized = rc != nil
	s.mu.Unlock()
}

// startTasks opens the mode's inputs and launches the input, action,
// simulator and background tasks.
func (s *Supervisor) startTasks() error {
	if s.runtime == nil {
		return ErrNotInitialized
	}

	in := inputs.NewOrchestrator(s.runtime.Inputs, s.logger)
	if err := in.Prepare(s.ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.inputs = in
	s.mu.Unlock()

	s.spawn("inputs", in.Listen)
	s.spawn("actions", s.actions.Start)
	if s.simulators != nil {
		s.spawn("simulators", s.simulators.Start)
	}
	if s.backgrounds != nil {
		s.spawn("backgrounds", s.backgrounds.Start)
	}
	s.logger.Debug("tasks started", "mode", s.runtime.Mode, "tasks", len(s.tasks))
	return nil
}

// stopCurrentTasks cancels every unfinished task and waits for all of
// them. It does nothing when no tasks exist.
func (s *Supervisor) stopCurrentTasks() {
	if len(s.tasks) == 0 {
		return
	}
	for _, t := range s.tasks {
		if !t.finished() {
			t.cancel()
		}
	}
	for _, t := range s.tasks {
		<-t.done
		t.cancel()
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			s.logger.Warn("task stopped with error", "task", t.name, "error", t.err)
		}
	}
	s.logger.Debug("tasks stopped", "tasks", len(s.tasks))

	s.tasks = nil
	s.mu.Lock()
	s.inputs = nil
	s.mu.Unlock()
}

// cleanupTasks is the final sweep before Run returns.
func (s *Supervisor) cleanupTasks() {
	s.stopCurrentTasks()
}
