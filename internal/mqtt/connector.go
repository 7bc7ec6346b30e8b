package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nugget/thane-cortex/internal/actions"
)

// PublishConfig configures a [PublishConnector].
type PublishConfig struct {
	// Topic receives the action. It is relative to the base topic
	// unless it starts with "/".
	Topic string `yaml:"topic"`

	// Retain publishes with the retain flag set.
	Retain bool `yaml:"retain"`

	// Raw publishes only the action value instead of the JSON action.
	Raw bool `yaml:"raw"`
}

// PublishConnector carries out actions by publishing them.
type PublishConnector struct {
	pub   Publisher
	topic string
	cfg   PublishConfig
}

// NewPublishConnector creates a connector publishing to cfg.Topic
// resolved against base.
func NewPublishConnector(pub Publisher, base string, cfg PublishConfig) *PublishConnector {
	return &PublishConnector{pub: pub, topic: resolveTopic(base, cfg.Topic), cfg: cfg}
}

// Name returns "mqtt".
func (c *PublishConnector) Name() string { return "mqtt" }

// Topic returns the resolved topic.
func (c *PublishConnector) Topic() string { return c.topic }

// Connect publishes a.
func (c *PublishConnector) Connect(ctx context.Context, a actions.Action) error {
	payload := []byte(a.Value)
	if !c.cfg.Raw {
		var err error
		if payload, err = json.Marshal(a); err != nil {
			return fmt.Errorf("encode action %s: %w", a.Type, err)
		}
	}
	return c.pub.Publish(ctx, c.topic, payload, c.cfg.Retain)
}

// SpeechSink speaks by publishing text to a topic, for a satellite or
// TTS bridge listening on the broker.
type SpeechSink struct {
	Publisher Publisher
	Topic     string
}

// Speak publishes text.
func (s *SpeechSink) Speak(ctx context.Context, text string) error {
	return s.Publisher.Publish(ctx, s.Topic, []byte(text), false)
}

func resolveTopic(base, topic string) string {
	if len(topic) > 0 && topic[0] == '/' {
		return topic[1:]
	}
	if topic == "" {
		return base
	}
	return base + "/" + topic
}
