package inputs

import (
	"context"
	"time"
)

// Clock is a source that reports the local time at a fixed interval.
type Clock struct {
	interval time.Duration
	now      func() time.Time
	buf      Buffer
}

// NewClock creates a clock source. Intervals under one second are
// raised to one second.
func NewClock(interval time.Duration) *Clock {
	if interval < time.Second {
		interval = time.Second
	}
	return &Clock{interval: interval, now: time.Now}
}

// Name returns "clock".
func (c *Clock) Name() string { return "clock" }

// Latest returns the newest time reading.
func (c *Clock) Latest() (Reading, bool) { return c.buf.Latest() }

// Listen records one reading immediately and then one per interval.
func (c *Clock) Listen(ctx context.Context) error {
	c.record()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.record()
		}
	}
}

func (c *Clock) record() {
	now := c.now()
	c.buf.Set(Reading{
		Source: "clock",
		Text:   "It is " + now.Format("15:04 on Monday, January 2") + ".",
		Time:   now,
	})
}
