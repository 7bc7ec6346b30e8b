package homeassistant

import (
	"context"
	"fmt"
	"maps"

	"github.com/nugget/thane-cortex/internal/actions"
)

// ServiceConfig configures a [ServiceConnector].
type ServiceConfig struct {
	// Service is the "domain.service" to call. When empty, actions
	// carry it in their "service" argument.
	Service string `yaml:"service"`

	// EntityID is the default target when an action has no value.
	EntityID string `yaml:"entity_id"`
}

// ServiceConnector executes actions as Home Assistant service calls.
// The action value is the target entity; remaining arguments become
// service data.
type ServiceConnector struct {
	client *Client
	cfg    ServiceConfig
}

// NewServiceConnector creates a service call connector.
func NewServiceConnector(client *Client, cfg ServiceConfig) *ServiceConnector {
	return &ServiceConnector{client: client, cfg: cfg}
}

// Name returns "homeassistant".
func (c *ServiceConnector) Name() string { return "homeassistant" }

// Connect calls the configured service for a.
func (c *ServiceConnector) Connect(ctx context.Context, a actions.Action) error {
	data := maps.Clone(a.Args)
	if data == nil {
		data = map[string]any{}
	}

	svc := c.cfg.Service
	if s, ok := data["service"].(string); ok {
		if svc == "" {
			svc = s
		}
		delete(data, "service")
	}
	domain, service, ok := SplitService(svc)
	if !ok {
		return fmt.Errorf("action %s: invalid service %q", a.Type, svc)
	}

	if _, set := data["entity_id"]; !set {
		switch {
		case a.Value != "":
			data["entity_id"] = a.Value
		case c.cfg.EntityID != "":
			data["entity_id"] = c.cfg.EntityID
		}
	}
	return c.client.CallService(ctx, domain, service, data)
}

// TTSSink speaks announcements through the tts.speak service.
type TTSSink struct {
	client      *Client
	ttsEntity   string
	mediaPlayer string
}

// NewTTSSink creates a speech sink. mediaPlayer may be empty to let the
// TTS entity choose its default player.
func NewTTSSink(client *Client, ttsEntity, mediaPlayer string) *TTSSink {
	return &TTSSink{client: client, ttsEntity: ttsEntity, mediaPlayer: mediaPlayer}
}

// Speak sends text to the TTS entity.
func (s *TTSSink) Speak(ctx context.Context, text string) error {
	data := map[string]any{
		"entity_id": s.ttsEntity,
		"message":   text,
	}
	if s.mediaPlayer != "" {
		data["media_player_entity_id"] = s.mediaPlayer
	}
	return s.client.CallService(ctx, "tts", "speak", data)
}
