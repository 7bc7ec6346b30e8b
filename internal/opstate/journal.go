package opstate

import (
	"context"
	"log/slog"

	"github.com/nugget/thane-cortex/internal/events"
)

// Outcomes recorded for journal entries.
const (
	OutcomeStarted  = "started"
	OutcomeSuccess  = "success"
	OutcomeRollback = "rollback"
	OutcomeDefault  = "emergency_default"
	OutcomeFailed   = "failed"
	OutcomeStopped  = "stopped"
)

// EntryFromEvent converts a supervisor event into a journal entry. It
// reports false for events that are not journaled.
func EntryFromEvent(ev events.Event) (Entry, bool) {
	if ev.Source != events.SourceSupervisor {
		return Entry{}, false
	}
	str := func(k string) string {
		v, _ := ev.Data[k].(string)
		return v
	}
	e := Entry{
		Time:  ev.Timestamp,
		Kind:  ev.Kind,
		From:  str("from"),
		To:    str("to"),
		Error: str("error"),
	}
	switch ev.Kind {
	case events.KindModeStarted:
		e.Mode, e.Outcome = str("mode"), OutcomeStarted
	case events.KindModeTransition:
		e.Mode, e.Outcome = e.To, OutcomeSuccess
	case events.KindModeRollback:
		e.Mode, e.Outcome = str("mode"), OutcomeRollback
	case events.KindModeRecovered:
		e.Mode, e.Outcome = str("mode"), OutcomeDefault
	case events.KindModeFailure:
		e.Outcome = OutcomeFailed
	case events.KindStopped:
		e.Mode, e.Outcome = str("mode"), OutcomeStopped
	default:
		return Entry{}, false
	}
	return e, true
}

// Journal records supervisor events from bus into store until ctx is
// cancelled.
func Journal(ctx context.Context, bus *events.Bus, store *Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "opstate")

	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e, ok := EntryFromEvent(ev)
			if !ok {
				continue
			}
			if err := store.Append(&e); err != nil {
				logger.Warn("journal append failed", "kind", e.Kind, "error", err)
				continue
			}
			logger.Debug("journaled mode event", "kind", e.Kind, "mode", e.Mode, "outcome", e.Outcome)
		}
	}
}
