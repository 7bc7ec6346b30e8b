package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// StatusFunc returns the document published by a [StatusPublisher].
type StatusFunc func() any

// StatusConfig configures a [StatusPublisher].
type StatusConfig struct {
	// Topic is relative to the base topic (default "status").
	Topic string `yaml:"topic"`

	// IntervalSeconds between publishes (default 60).
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

// StatusPublisher is a background that publishes a retained JSON status
// document when it starts and then periodically.
type StatusPublisher struct {
	pub      Publisher
	topic    string
	interval time.Duration
	status   StatusFunc
	logger   *slog.Logger
}

// NewStatusPublisher creates a status background.
func NewStatusPublisher(pub Publisher, base string, cfg StatusConfig, status StatusFunc, logger *slog.Logger) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = "status"
	}
	interval := time.Duration(cfg.IntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusPublisher{
		pub:      pub,
		topic:    resolveTopic(base, cfg.Topic),
		interval: interval,
		status:   status,
		logger:   logger.With("component", "mqtt", "background", "status"),
	}
}

// Name returns "mqtt_status".
func (p *StatusPublisher) Name() string { return "mqtt_status" }

// Run publishes until ctx is cancelled.
func (p *StatusPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.publish(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *StatusPublisher) publish(ctx context.Context) {
	payload, err := json.Marshal(p.status())
	if err != nil {
		p.logger.Error("encode status", "error", err)
		return
	}
	if err := p.pub.Publish(ctx, p.topic, payload, true); err != nil && ctx.Err() == nil {
		p.logger.Warn("status publish failed", "topic", p.topic, "error", err)
	}
}
