// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the mode supervisor and its drivers
// to subscribers (the WebSocket stream, the operational journal). The
// bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSupervisor identifies events from the mode supervisor.
	SourceSupervisor = "supervisor"
	// SourceTracker identifies events from the mode tracker.
	SourceTracker = "tracker"
	// SourceConnwatch identifies events from service health watchers.
	SourceConnwatch = "connwatch"
	// SourceSpeech identifies events from the announcement queue.
	SourceSpeech = "speech"
)

// Kind constants describe the type of event within a source.
const (
	// KindModeStarted signals the supervisor entered its first mode.
	// Data: mode.
	KindModeStarted = "mode_started"
	// KindModeTransition signals a completed transition.
	// Data: from, to, elapsed_ms.
	KindModeTransition = "mode_transition"
	// KindModeRollback signals a failed transition that was rolled back.
	// Data: from, to, error.
	KindModeRollback = "mode_rollback"
	// KindModeRecovered signals a failed transition that fell back to
	// the default mode. Data: from, to, mode, error.
	KindModeRecovered = "mode_recovered"
	// KindModeFailure signals that recovery failed and the supervisor
	// is stopping. Data: from, to, error.
	KindModeFailure = "mode_failure"
	// KindTickError signals a tick that returned an error.
	// Data: mode, error.
	KindTickError = "tick_error"
	// KindStopped signals the supervisor stopped.
	// Data: mode, error.
	KindStopped = "stopped"

	// KindTransitionRequested signals the tracker accepted a request
	// and invoked its callback. Data: from, to, reason.
	KindTransitionRequested = "transition_requested"

	// KindServiceUp signals a watched service became reachable.
	// Data: service.
	KindServiceUp = "service_up"
	// KindServiceDown signals a watched service became unreachable.
	// Data: service, error.
	KindServiceDown = "service_down"

	// KindAnnouncement signals a spoken announcement was delivered.
	// Data: text.
	KindAnnouncement = "announcement"
	// KindAnnouncementDropped signals an announcement was discarded
	// because the queue was full. Data: text.
	KindAnnouncementDropped = "announcement_dropped"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time. Safe to call
// on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
