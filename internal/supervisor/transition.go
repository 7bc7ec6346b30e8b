package supervisor

import (
	"context"
	"errors"

	"github.com/nugget/thane-cortex/internal/events"
	"github.com/nugget/thane-cortex/internal/modes"
)

// Recovery announcements. They are spoken regardless of the
// transition_announcement setting.
const (
	msgRollback  = "Mode transition failed. Returning to previous mode."
	msgEmergency = "Mode transition failed. Switching to safe mode."
	msgCritical  = "Critical error: unable to recover mode. Please restart the system."
)

// handleTransition moves the runtime from ev.from to ev.to. The
// tracker has already committed ev.to. A failure enters recovery; the
// returned error is non-nil only when recovery failed as well.
func (s *Supervisor) handleTransition(ev transitionEvent) error {
	defer s.release()

	s.takeBackup(ev.from)
	s.logger.Info("mode transition starting", "from", ev.from, "to", ev.to)

	if s.sys.TransitionAnnouncement {
		if def, ok := s.sys.Modes[ev.from]; ok && def.ExitMessage != "" {
			s.announce(def.ExitMessage)
		}
	}

	s.stopCurrentTasks()

	if err := s.initializeMode(ev.to); err != nil {
		return s.recover(ev.from, ev.to, err)
	}
	if err := s.startTasks(); err != nil {
		return s.recover(ev.from, ev.to, err)
	}

	if s.sys.TransitionAnnouncement {
		if msg := s.sys.Modes[ev.to].EntryMessage; msg != "" {
			s.announce(msg)
		}
	}

	s.metrics.observeTransition(ev.from, ev.to, outcomeSuccess)
	s.metrics.setMode(s.sys.Names(), ev.to)
	s.bus.Emit(events.SourceSupervisor, events.KindModeTransition, map[string]any{
		"from": ev.from,
		"to":   ev.to,
	})
	s.logger.Info("mode transition complete", "from", ev.from, "to", ev.to)
	return nil
}

// takeBackup snapshots the running mode. RuntimeConfig slices are
// never modified in place, so a struct copy is independent of later
// changes to the live state.
func (s *Supervisor) takeBackup(mode string) {
	b := &backup{mode: mode}
	if s.runtime != nil {
		rc := *s.runtime
		b.runtime = &rc
	}
	s.mu.Lock()
	s.backup = b
	s.mu.Unlock()
}

// release clears the backup slot and the in-progress flag.
func (s *Supervisor) release() {
	s.mu.Lock()
	s.backup = nil
	s.mu.Unlock()
	s.transitioning.Store(false)
}

// recover runs the recovery stages in order and stops at the first
// that succeeds. It returns a terminal *TransitionError when none does.
// Once the Run context is cancelled no stage is attempted and nothing
// is announced; Run is shutting down and cleans up the tasks.
func (s *Supervisor) recover(from, to string, cause error) error {
	if s.interrupted(from, to, cause) {
		return nil
	}
	s.logger.Error("mode transition failed", "from", from, "to", to, "error", cause)
	terr := &TransitionError{From: from, To: to, Cause: cause}

	if b := s.backup; b != nil && b.mode != to {
		err := s.rollback(b)
		if err == nil {
			s.announce(msgRollback)
			s.metrics.observeTransition(from, to, outcomeRollback)
			s.metrics.setMode(s.sys.Names(), b.mode)
			s.bus.Emit(events.SourceSupervisor, events.KindModeRollback, map[string]any{
				"from":  from,
				"to":    to,
				"mode":  b.mode,
				"error": cause.Error(),
			})
			s.logger.Warn("mode transition rolled back", "mode", b.mode)
			return nil
		}
		if s.interrupted(from, to, err) {
			return nil
		}
		s.logger.Error("rollback failed", "mode", b.mode, "error", err)
		terr.Stages = append(terr.Stages, StageError{Stage: StageRollback, Mode: b.mode, Err: err})
	}

	if def := s.sys.DefaultMode; def != to && def != from {
		err := s.emergency(def)
		if err == nil {
			s.announce(msgEmergency)
			s.metrics.observeTransition(from, to, outcomeDefault)
			s.metrics.setMode(s.sys.Names(), def)
			s.bus.Emit(events.SourceSupervisor, events.KindModeRecovered, map[string]any{
				"from":  from,
				"to":    to,
				"mode":  def,
				"error": cause.Error(),
			})
			s.logger.Warn("recovered to default mode", "mode", def)
			return nil
		}
		if s.interrupted(from, to, err) {
			return nil
		}
		s.logger.Error("default mode recovery failed", "mode", def, "error", err)
		terr.Stages = append(terr.Stages, StageError{Stage: StageEmergency, Mode: def, Err: err})
	}

	terr.Terminal = true
	s.announce(msgCritical)
	s.metrics.observeTransition(from, to, outcomeFailed)
	s.bus.Emit(events.SourceSupervisor, events.KindModeFailure, map[string]any{
		"from":  from,
		"to":    to,
		"error": terr.Error(),
	})
	s.logger.Error("mode recovery exhausted", "from", from, "to", to, "error", terr)
	return terr
}

// interrupted reports whether err is the result of Run being
// cancelled mid-transition.
func (s *Supervisor) interrupted(from, to string, err error) bool {
	if s.ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return false
	}
	s.logger.Info("mode transition interrupted by shutdown", "from", from, "to", to, "error", err)
	return true
}

// rollback restores the backed-up runtime with fresh orchestrators and
// undoes the tracker's switch, previous mode included.
func (s *Supervisor) rollback(b *backup) error {
	s.stopCurrentTasks()
	s.applyRuntime(b.runtime)
	if err := s.startTasks(); err != nil {
		return err
	}
	s.tracker.Revert(b.mode)
	return nil
}

// emergency switches to the default mode and forgets the previous
// mode.
func (s *Supervisor) emergency(mode string) error {
	s.stopCurrentTasks()
	if err := s.initializeMode(mode); err != nil {
		return err
	}
	if err := s.startTasks(); err != nil {
		return err
	}
	s.tracker.SetCurrent(mode)
	s.tracker.ClearPrevious()
	return nil
}

// snapshot returns a copy of the backup slot for inspection.
func (s *Supervisor) snapshot() (string, *modes.RuntimeConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backup == nil {
		return "", nil, false
	}
	return s.backup.mode, s.backup.runtime, true
}
