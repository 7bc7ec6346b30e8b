package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/thane-cortex/internal/inputs"
)

// TopicSourceConfig configures a [TopicSource].
type TopicSourceConfig struct {
	// Name is the source name shown in prompts (default: the filter).
	Name string `yaml:"name"`

	// Topic is the filter to subscribe to. Wildcards are allowed.
	Topic string `yaml:"topic"`

	// Field selects one top-level field from JSON payloads. Empty uses
	// the whole payload as text.
	Field string `yaml:"field"`

	// PerMinute caps the messages accepted per minute (default 60).
	PerMinute int `yaml:"per_minute"`
}

// TopicSource is an input fed by MQTT messages. Each accepted message
// replaces the latest reading.
type TopicSource struct {
	sub     Subscriber
	cfg     TopicSourceConfig
	limiter *messageRateLimiter
	logger  *slog.Logger
	buf     inputs.Buffer
}

// NewTopicSource creates a topic input.
func NewTopicSource(sub Subscriber, cfg TopicSourceConfig, logger *slog.Logger) *TopicSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Topic
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 60
	}
	logger = logger.With("component", "mqtt", "source", cfg.Name)
	return &TopicSource{
		sub:     sub,
		cfg:     cfg,
		limiter: newMessageRateLimiter(int64(cfg.PerMinute), time.Minute, logger),
		logger:  logger,
	}
}

// Name returns the source name.
func (s *TopicSource) Name() string { return s.cfg.Name }

// Latest returns the newest message.
func (s *TopicSource) Latest() (inputs.Reading, bool) { return s.buf.Latest() }

// Listen subscribes and accepts messages until ctx is cancelled.
func (s *TopicSource) Listen(ctx context.Context) error {
	unsubscribe, err := s.sub.Subscribe(ctx, s.cfg.Topic, s.handle)
	if err != nil {
		return err
	}
	defer unsubscribe()

	s.limiter.start(ctx)
	return nil
}

func (s *TopicSource) handle(topic string, payload []byte) {
	if !s.limiter.allow() {
		return
	}
	text, err := s.render(topic, payload)
	if err != nil {
		s.logger.Debug("mqtt message skipped", "topic", topic, "error", err)
		return
	}
	if text == "" {
		return
	}
	s.buf.Set(inputs.Reading{Source: s.cfg.Name, Text: text})
}

func (s *TopicSource) render(topic string, payload []byte) (string, error) {
	body := strings.TrimSpace(string(payload))
	if s.cfg.Field != "" {
		var obj map[string]any
		if err := json.Unmarshal(payload, &obj); err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
		v, ok := obj[s.cfg.Field]
		if !ok {
			return "", fmt.Errorf("field %q missing", s.cfg.Field)
		}
		body = fmt.Sprint(v)
	}
	if body == "" {
		return "", nil
	}
	if topic == s.cfg.Topic {
		return body, nil
	}
	return topic + ": " + body, nil
}

// messageRateLimiter drops messages once more than limit arrive within
// one interval, logging a summary of what was dropped.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter at each interval until ctx is cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reset()
		}
	}
}

func (r *messageRateLimiter) reset() {
	count := r.count.Swap(0)
	if dropped := r.dropped.Swap(0); dropped > 0 {
		r.logger.Warn("mqtt messages dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
