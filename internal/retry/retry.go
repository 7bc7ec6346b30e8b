// Package retry wraps single outbound calls (decision engine requests,
// service calls) with per-attempt timeouts and exponential backoff, and
// keeps running statistics for health reporting.
//
// Attempt n (0-based) runs with a timeout of BaseTimeout + n*TimeoutStep.
// Between attempts the manager waits BackoffFactor^n backoff units.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// HealthWindow is how long after the last success a manager still
// reports itself healthy.
const HealthWindow = 5 * time.Minute

// Config controls retry behavior. Zero fields take defaults.
type Config struct {
	// MaxAttempts is the total number of tries (default: 3).
	MaxAttempts int

	// BackoffFactor is the base of the exponential wait between
	// attempts (default: 2.0).
	BackoffFactor float64

	// BaseTimeout is the timeout of the first attempt (default: 10s).
	BaseTimeout time.Duration

	// TimeoutStep is added to the timeout for each further attempt
	// (default: 2s).
	TimeoutStep time.Duration

	// BackoffUnit scales BackoffFactor^attempt into a duration
	// (default: 1s).
	BackoffUnit time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = 10 * time.Second
	}
	if c.TimeoutStep <= 0 {
		c.TimeoutStep = 2 * time.Second
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	return c
}

// Stats summarizes every call made through a manager.
type Stats struct {
	TotalAttempts   int64   `json:"total_attempts"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	SuccessRate     float64 `json:"success_rate"` // percent of attempts
}

// Health is the manager's view of the remote side.
type Health struct {
	Healthy             bool      `json:"healthy"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Stats               Stats     `json:"stats"`
}

// Manager runs calls with retry. It is safe for concurrent use.
type Manager struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	stats       Stats
	lastSuccess time.Time
	consecutive int
}

// New creates a retry manager. name identifies the remote side in logs.
func New(name string, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "retry", "target", name),
		now:    time.Now,
	}
}

// Timeout returns the timeout applied to the given 0-based attempt.
func (m *Manager) Timeout(attempt int) time.Duration {
	return m.cfg.BaseTimeout + time.Duration(attempt)*m.cfg.TimeoutStep
}

// Backoff returns the wait after the given 0-based failed attempt.
func (m *Manager) Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(m.cfg.BackoffFactor, float64(attempt)) * float64(m.cfg.BackoffUnit))
}

// Do calls fn until it succeeds, attempts run out, or ctx is done. The
// context passed to fn carries the attempt timeout. The returned error
// is the last attempt's error; cancellation of ctx is returned as-is.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := range m.cfg.MaxAttempts {
		m.mu.Lock()
		m.stats.TotalAttempts++
		m.mu.Unlock()

		timeout := m.Timeout(attempt)
		m.logger.Debug("attempt",
			"attempt", attempt+1,
			"max_attempts", m.cfg.MaxAttempts,
			"timeout", timeout.String(),
		)

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			m.recordSuccess()
			if attempt > 0 {
				m.logger.Info("call succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: timed out after %s: %w", m.name, timeout, err)
		}
		lastErr = err
		m.logger.Warn("attempt failed",
			"attempt", attempt+1,
			"max_attempts", m.cfg.MaxAttempts,
			"error", err,
		)

		if attempt < m.cfg.MaxAttempts-1 {
			if !sleepCtx(ctx, m.Backoff(attempt)) {
				return ctx.Err()
			}
		}
	}

	m.recordFailure()
	m.logger.Error("all attempts failed", "attempts", m.cfg.MaxAttempts, "error", lastErr)
	return lastErr
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.SuccessfulCalls++
	m.lastSuccess = m.now()
	m.consecutive = 0
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.FailedCalls++
	m.consecutive++
}

// Stats returns a snapshot of the call statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.SuccessRate = float64(s.SuccessfulCalls) / float64(max(s.TotalAttempts, 1)) * 100
	return s
}

// Healthy reports whether a call succeeded within [HealthWindow].
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.lastSuccess.IsZero() && m.now().Sub(m.lastSuccess) < HealthWindow
}

// Health returns the detailed health view.
func (m *Manager) Health() Health {
	healthy := m.Healthy()
	stats := m.Stats()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Healthy:             healthy,
		LastSuccess:         m.lastSuccess,
		ConsecutiveFailures: m.consecutive,
		Stats:               stats,
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
