package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nugget/thane-cortex/internal/actions"
)

// SimulatorConfig configures a [Simulator].
type SimulatorConfig struct {
	// Topic receives predicted action sets, relative to the base topic
	// (default "simulated").
	Topic string `yaml:"topic"`

	// QueueSize bounds pending action sets (default 16).
	QueueSize int `yaml:"queue_size"`
}

// simulation is the payload published for each action set.
type simulation struct {
	Time    time.Time        `json:"time"`
	Actions []actions.Action `json:"actions"`
}

// Simulator publishes each promised action set so an external model
// can predict its effects. Simulate never blocks; sets beyond the queue
// are dropped.
type Simulator struct {
	pub    Publisher
	topic  string
	queue  chan simulation
	logger *slog.Logger
}

// NewSimulator creates a publishing simulator.
func NewSimulator(pub Publisher, base string, cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = "simulated"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Simulator{
		pub:    pub,
		topic:  resolveTopic(base, cfg.Topic),
		queue:  make(chan simulation, cfg.QueueSize),
		logger: logger.With("component", "simulator", "simulator", "mqtt"),
	}
}

// Name returns "mqtt".
func (s *Simulator) Name() string { return "mqtt" }

// Simulate queues acts for publishing.
func (s *Simulator) Simulate(acts []actions.Action) {
	select {
	case s.queue <- simulation{Time: time.Now(), Actions: append([]actions.Action(nil), acts...)}:
	default:
		s.logger.Warn("simulation queue full, dropping action set", "actions", len(acts))
	}
}

// Run publishes queued action sets until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sim := <-s.queue:
			payload, err := json.Marshal(sim)
			if err != nil {
				s.logger.Error("encode simulation", "error", err)
				continue
			}
			if err := s.pub.Publish(ctx, s.topic, payload, false); err != nil && ctx.Err() == nil {
				s.logger.Warn("simulation publish failed", "topic", s.topic, "error", err)
			}
		}
	}
}
