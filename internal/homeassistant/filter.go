package homeassistant

import (
	"log/slog"
	"path"
	"sync"
	"time"
)

// EntityFilter selects entity IDs by [path.Match] glob patterns such as
// "person.*" or "binary_sensor.*door*". An empty filter matches every
// entity.
type EntityFilter struct {
	patterns []string
	logger   *slog.Logger
}

// NewEntityFilter creates an entity filter from glob patterns.
func NewEntityFilter(globs []string, logger *slog.Logger) *EntityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityFilter{patterns: globs, logger: logger}
}

// Match reports whether the entity ID matches at least one pattern.
func (f *EntityFilter) Match(entityID string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, pat := range f.patterns {
		matched, err := path.Match(pat, entityID)
		if err != nil {
			f.logger.Debug("glob match error", "pattern", pat, "entity_id", entityID, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// EntityRateLimiter allows at most limit changes per entity within a
// sliding one-minute window. A zero limit disables it.
type EntityRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

// NewEntityRateLimiter creates a per-entity limiter.
func NewEntityRateLimiter(perMinute int) *EntityRateLimiter {
	return &EntityRateLimiter{
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
		seen:   make(map[string][]time.Time),
	}
}

// Allow reports whether a change for entityID should be processed and,
// if so, counts it. Entities whose window has fully expired are
// forgotten so the map does not grow with churned entity IDs.
func (r *EntityRateLimiter) Allow(entityID string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	for id, ts := range r.seen {
		if id != entityID && (len(ts) == 0 || ts[len(ts)-1].Before(cutoff)) {
			delete(r.seen, id)
		}
	}

	valid := r.seen[entityID][:0]
	for _, ts := range r.seen[entityID] {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= r.limit {
		r.seen[entityID] = valid
		return false
	}
	r.seen[entityID] = append(valid, now)
	return true
}
