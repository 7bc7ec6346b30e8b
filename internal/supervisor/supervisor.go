// Package supervisor runs the mode-aware control loop. A Supervisor
// owns the active mode's runtime wiring and the goroutines driving it,
// ticks the sense, fuse, decide and act cycle at the mode's rate, and
// moves between modes when the tracker reports a switch. A failed
// switch is recovered by rolling back to the previous mode, then by
// falling back to the default mode. Only when both fail does Run
// return.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/backgrounds"
	"github.com/nugget/thane-cortex/internal/events"
	"github.com/nugget/thane-cortex/internal/fuser"
	"github.com/nugget/thane-cortex/internal/inputs"
	"github.com/nugget/thane-cortex/internal/modes"
	"github.com/nugget/thane-cortex/internal/simulators"
	"github.com/nugget/thane-cortex/internal/speech"
)

// tickErrorBackoff is the pause after a tick that failed.
const tickErrorBackoff = time.Second

// Config holds the supervisor's dependencies.
type Config struct {
	// System is the mode registry. Required.
	System *modes.SystemConfig

	// Tracker decides mode switches. Required. The supervisor registers
	// itself as the tracker's transition callback.
	Tracker *modes.Tracker

	// Announcer receives spoken announcements. Optional.
	Announcer speech.Announcer

	// Trigger holds text that transition rules match against. A fresh
	// one is created when nil.
	Trigger *modes.TriggerInput

	// Bus receives lifecycle events. Optional.
	Bus *events.Bus

	// Registerer receives the supervisor's metrics. Optional.
	Registerer prometheus.Registerer

	// ActionWorkers is the number of concurrent action executions per
	// mode (default: 1).
	ActionWorkers int

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

type transitionEvent struct {
	from, to string
}

// backup is the pre-transition state restored by rollback.
type backup struct {
	mode    string
	runtime *modes.RuntimeConfig
}

// Supervisor is the mode-aware runtime. Create with [New] and drive
// with [Supervisor.Run]. RequestModeChange, ModeInfo, AvailableModes
// and SkipNextSleep are safe to call from any goroutine.
type Supervisor struct {
	sys       *modes.SystemConfig
	tracker   *modes.Tracker
	announcer speech.Announcer
	trigger   *modes.TriggerInput
	bus       *events.Bus
	metrics   *metrics
	workers   int
	logger    *slog.Logger

	transitions   chan transitionEvent
	exits         chan *task
	stopped       chan struct{}
	running       atomic.Bool
	accepting     atomic.Bool
	transitioning atomic.Bool
	skipSleep     atomic.Bool

	// ctx is the Run context. Tasks derive from it.
	ctx context.Context

	// mu guards the fields below for readers outside the Run
	// goroutine. Only the Run goroutine writes them.
	mu          sync.RWMutex
	runtime     *modes.RuntimeConfig
	fuser       *fuser.Fuser
	actions     *actions.Orchestrator
	simulators  *simulators.Orchestrator
	backgrounds *backgrounds.Orchestrator
	inputs      *inputs.Orchestrator
	initialized bool
	backup      *backup

	// tasks is touched only by the Run goroutine.
	tasks []*task
}

// New creates a supervisor and registers it as the tracker's
// transition callback.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Trigger == nil {
		cfg.Trigger = &modes.TriggerInput{}
	}
	if cfg.ActionWorkers <= 0 {
		cfg.ActionWorkers = 1
	}

	s := &Supervisor{
		sys:         cfg.System,
		tracker:     cfg.Tracker,
		announcer:   cfg.Announcer,
		trigger:     cfg.Trigger,
		bus:         cfg.Bus,
		metrics:     newMetrics(cfg.Registerer),
		workers:     cfg.ActionWorkers,
		logger:      cfg.Logger.With("component", "supervisor"),
		transitions: make(chan transitionEvent, 1),
		exits:       make(chan *task),
		stopped:     make(chan struct{}),
	}
	s.tracker.OnTransition(s.onTransition)
	return s
}

// Trigger returns the transition trigger input fed to the tracker on
// every tick.
func (s *Supervisor) Trigger() *modes.TriggerInput { return s.trigger }

// Run initializes the tracker's current mode, starts its tasks and
// ticks until ctx is cancelled. It returns nil on cancellation and an
// error matching [ErrUnrecoverable] when a failed transition could not
// be recovered. Every task has stopped by the time Run returns. Run
// may be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer close(s.stopped)

	s.ctx = ctx
	defer s.cleanupTasks()

	mode := s.tracker.Current()
	if err := s.initializeMode(mode); err != nil {
		return err
	}
	if err := s.startTasks(); err != nil {
		return err
	}
	s.accepting.Store(true)
	defer s.accepting.Store(false)
	if s.sys.TransitionAnnouncement {
		if msg := s.sys.Modes[mode].EntryMessage; msg != "" {
			s.announce(msg)
		}
	}
	s.metrics.setMode(s.sys.Names(), mode)
	s.bus.Emit(events.SourceSupervisor, events.KindModeStarted, map[string]any{"mode": mode})
	s.logger.Info("supervisor started", "mode", mode, "hertz", s.runtime.Hertz)

	err := s.loop(ctx)
	if err == nil {
		s.bus.Emit(events.SourceSupervisor, events.KindStopped, map[string]any{"mode": s.tracker.Current()})
		s.logger.Info("supervisor stopped")
	}
	return err
}

// loop serializes ticks, transitions and task exits. Queued
// transitions always run before the next tick.
func (s *Supervisor) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-s.transitions:
			if err := s.handleTransition(ev); err != nil {
				return err
			}
			resetTimer(timer, s.interval())

		case t := <-s.exits:
			s.taskExited(t)

		case <-timer.C:
			select {
			case ev := <-s.transitions:
				if err := s.handleTransition(ev); err != nil {
					return err
				}
			default:
				if err := s.runTick(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					resetTimer(timer, tickErrorBackoff)
					continue
				}
			}
			wait := s.interval()
			if s.skipSleep.Swap(false) {
				wait = 0
			}
			resetTimer(timer, wait)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// interval is the active mode's tick period.
func (s *Supervisor) interval() time.Duration {
	if s.runtime == nil {
		return time.Second
	}
	return s.runtime.Interval()
}

// onTransition is the tracker callback. It runs with the tracker's lock
// held, so it only claims the transition and queues it. Switches are
// rejected until Run has its first mode up and after Run returns.
func (s *Supervisor) onTransition(from, to string) bool {
	if !s.accepting.Load() {
		s.logger.Warn("supervisor not running, ignoring mode transition", "from", from, "to", to)
		return false
	}
	if !s.transitioning.CompareAndSwap(false, true) {
		s.logger.Warn("mode transition already in progress, ignoring request", "from", from, "to", to)
		return false
	}
	select {
	case s.transitions <- transitionEvent{from: from, to: to}:
		return true
	default:
		s.transitioning.Store(false)
		s.logger.Warn("mode transition queue full, ignoring request", "from", from, "to", to)
		return false
	}
}

// RequestModeChange asks the tracker for a manual switch to target and
// reports whether the switch was accepted. The transition itself runs
// on the Run goroutine.
func (s *Supervisor) RequestModeChange(target string) bool {
	return s.tracker.RequestTransition(target, "manual")
}

// SkipNextSleep makes the next wait between ticks zero.
func (s *Supervisor) SkipNextSleep() { s.skipSleep.Store(true) }

func (s *Supervisor) announce(text string) {
	if s.announcer == nil {
		return
	}
	s.announcer.AddPendingMessage(text)
}
