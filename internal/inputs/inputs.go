// Package inputs defines the sensing side of a mode: sources that
// listen for data and expose their latest reading to the fuser.
package inputs

import (
	"context"
	"sync"
	"time"
)

// Reading is a single observation from a source, already rendered as
// prompt text.
type Reading struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// Source produces readings. Listen blocks until ctx is cancelled and
// may be called again after it returns, so a source can be reused when
// a mode is rolled back. Latest returns the newest reading and whether
// it has not been returned before.
type Source interface {
	Name() string
	Listen(ctx context.Context) error
	Latest() (Reading, bool)
}

// Opener is implemented by sources that need a connection established
// before listening. Open failures fail the mode start.
type Opener interface {
	Open(ctx context.Context) error
}

// Closer is implemented by openers that hold a connection between
// Open and Listen. Close releases it when the mode fails to start.
type Closer interface {
	Close() error
}

// Buffer holds the latest reading for a source and whether it has been
// consumed. The zero value is ready to use.
type Buffer struct {
	mu     sync.Mutex
	latest Reading
	fresh  bool
}

// Set stores r as the latest reading.
func (b *Buffer) Set(r Reading) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	b.mu.Lock()
	b.latest = r
	b.fresh = true
	b.mu.Unlock()
}

// Latest returns the stored reading and whether it is unconsumed,
// marking it consumed.
func (b *Buffer) Latest() (Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fresh := b.fresh
	b.fresh = false
	return b.latest, fresh
}

// Peek returns the stored reading without consuming it.
func (b *Buffer) Peek() (Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, !b.latest.Time.IsZero()
}
