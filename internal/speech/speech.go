// Package speech delivers spoken announcements. A [Queue] accepts
// messages without ever blocking the caller and drains them to a
// [Sink] on its own goroutine.
package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/events"
)

// Announcer accepts messages to be spoken. Implementations must not
// block and must not fail the caller.
type Announcer interface {
	AddPendingMessage(text string)
}

// Sink speaks a single message.
type Sink interface {
	Speak(ctx context.Context, text string) error
}

// SinkFunc adapts a function into a [Sink].
type SinkFunc func(ctx context.Context, text string) error

// Speak calls f.
func (f SinkFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// LogSink writes announcements to the log.
type LogSink struct {
	Logger *slog.Logger
}

// Speak logs text at info level.
func (s *LogSink) Speak(_ context.Context, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("announcement", "text", text)
	return nil
}

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 16

// DrainTimeout bounds how long Run keeps speaking queued messages
// after its context is cancelled.
const DrainTimeout = 5 * time.Second

// Queue is a bounded announcement queue. When full, new messages are
// dropped with a warning.
type Queue struct {
	ch     chan string
	sink   Sink
	logger *slog.Logger
	bus    *events.Bus

	drainTimeout time.Duration
}

// NewQueue creates a queue of the given capacity draining to sink.
// bus may be nil.
func NewQueue(sink Sink, size int, logger *slog.Logger, bus *events.Bus) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:     make(chan string, size),
		sink:   sink,
		logger: logger.With("component", "speech"),
		bus:    bus,

		drainTimeout: DrainTimeout,
	}
}

// AddPendingMessage enqueues text. Empty text is ignored.
func (q *Queue) AddPendingMessage(text string) {
	if text == "" {
		return
	}
	select {
	case q.ch <- text:
	default:
		q.logger.Warn("announcement queue full, dropping message", "text", text)
		q.bus.Emit(events.SourceSpeech, events.KindAnnouncementDropped, map[string]any{"text": text})
	}
}

// Pending returns the number of queued messages.
func (q *Queue) Pending() int {
	return len(q.ch)
}

// Run drains the queue until ctx is cancelled. Sink errors are logged
// and the message is discarded. On cancellation the messages already
// queued are still spoken, for at most [DrainTimeout].
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx)
			return nil
		case text := <-q.ch:
			if err := q.sink.Speak(ctx, text); err != nil {
				if ctx.Err() != nil {
					q.drain(ctx, text)
					return nil
				}
				q.logger.Warn("announcement failed", "text", text, "error", err)
				continue
			}
			q.bus.Emit(events.SourceSpeech, events.KindAnnouncement, map[string]any{"text": text})
		}
	}
}

// drain speaks interrupted, then everything left in the queue, on a
// context detached from the cancelled ctx.
func (q *Queue) drain(ctx context.Context, interrupted ...string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.drainTimeout)
	defer cancel()

	speak := func(text string) bool {
		if err := q.sink.Speak(dctx, text); err != nil {
			q.logger.Warn("announcement failed during shutdown", "text", text, "error", err)
			return dctx.Err() == nil
		}
		q.bus.Emit(events.SourceSpeech, events.KindAnnouncement, map[string]any{"text": text})
		return true
	}

	for _, text := range interrupted {
		if !speak(text) {
			return
		}
	}
	for {
		select {
		case text := <-q.ch:
			if !speak(text) {
				q.logger.Warn("announcement queue abandoned", "pending", len(q.ch))
				return
			}
		default:
			return
		}
	}
}

// Connector exposes an [Announcer] as an action connector: the
// action's Value is spoken.
type Connector struct {
	Announcer Announcer
}

// Name returns "speak".
func (c *Connector) Name() string { return "speak" }

// Connect enqueues the action value for speech.
func (c *Connector) Connect(_ context.Context, a actions.Action) error {
	c.Announcer.AddPendingMessage(a.Value)
	return nil
}
