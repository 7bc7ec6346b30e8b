package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/thane-cortex/internal/inputs"
)

// StateSourceConfig configures a [StateSource].
type StateSourceConfig struct {
	// Name is the source name shown in prompts (default: "homeassistant").
	Name string `yaml:"name"`

	// Entities are glob patterns of entity IDs to watch. Empty watches
	// every entity.
	Entities []string `yaml:"entities"`

	// PerMinute caps state changes reported per entity per minute.
	PerMinute int `yaml:"per_minute"`
}

// StateSource is an input that reports Home Assistant state changes.
// Open connects the event stream; Listen consumes it and reconnects on
// the next Open after it returns.
type StateSource struct {
	client  *Client
	name    string
	filter  *EntityFilter
	limiter *EntityRateLimiter
	logger  *slog.Logger
	buf     inputs.Buffer

	mu     sync.Mutex
	stream *EventStream
}

// NewStateSource creates a state change input.
func NewStateSource(client *Client, cfg StateSourceConfig, logger *slog.Logger) *StateSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "homeassistant"
	}
	return &StateSource{
		client:  client,
		name:    cfg.Name,
		filter:  NewEntityFilter(cfg.Entities, logger),
		limiter: NewEntityRateLimiter(cfg.PerMinute),
		logger:  logger.With("component", "homeassistant", "source", cfg.Name),
	}
}

// Name returns the source name.
func (s *StateSource) Name() string { return s.name }

// Latest returns the most recent state change.
func (s *StateSource) Latest() (inputs.Reading, bool) { return s.buf.Latest() }

// Open connects and subscribes to state_changed events, replacing any
// stream left from an earlier Open.
func (s *StateSource) Open(ctx context.Context) error {
	stream, err := s.client.DialEvents(ctx, "state_changed")
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.stream
	s.stream = stream
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close drops a stream opened by Open that Listen has not taken.
func (s *StateSource) Close() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

// Listen reads state changes until ctx is cancelled.
func (s *StateSource) Listen(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		var err error
		if stream, err = s.client.DialEvents(ctx, "state_changed"); err != nil {
			return err
		}
	}
	return stream.Run(ctx, s.handle)
}

func (s *StateSource) handle(ev Event) {
	if ev.Type != "state_changed" {
		return
	}
	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.Debug("undecodable state_changed event", "error", err)
		return
	}
	if data.NewState == nil || !s.filter.Match(data.EntityID) {
		return
	}
	old := ""
	if data.OldState != nil {
		old = data.OldState.State
	}
	if old == data.NewState.State {
		return
	}
	if !s.limiter.Allow(data.EntityID) {
		s.logger.Debug("state change rate limited", "entity_id", data.EntityID)
		return
	}

	text := fmt.Sprintf("%s (%s) changed to %s", data.NewState.FriendlyName(), data.EntityID, data.NewState.State)
	if old != "" {
		text = fmt.Sprintf("%s (%s) changed from %s to %s", data.NewState.FriendlyName(), data.EntityID, old, data.NewState.State)
	}
	s.buf.Set(inputs.Reading{Source: s.name, Text: text, Time: ev.TimeFired})
}
