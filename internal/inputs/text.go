package inputs

import (
	"context"
	"strings"
	"sync"
)

// Mailbox fans operator text out to every listening [Text] source. It
// outlives modes: the API posts into one Mailbox, and each mode's text
// sources subscribe while they listen.
type Mailbox struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{subs: make(map[chan string]struct{})}
}

// Post delivers text to every subscriber and reports how many received
// it. Full subscribers miss the message.
func (m *Mailbox) Post(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ch := range m.subs {
		select {
		case ch <- text:
			n++
		default:
		}
	}
	return n
}

func (m *Mailbox) subscribe() chan string {
	ch := make(chan string, 8)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

func (m *Mailbox) unsubscribe(ch chan string) {
	m.mu.Lock()
	delete(m.subs, ch)
	m.mu.Unlock()
}

// Text is a source fed by operator messages posted to a [Mailbox].
type Text struct {
	name   string
	prefix string
	box    *Mailbox
	buf    Buffer
}

// NewText creates a text source. prefix is prepended to each reading
// (for example "Operator said:").
func NewText(name, prefix string, box *Mailbox) *Text {
	if name == "" {
		name = "text"
	}
	return &Text{name: name, prefix: prefix, box: box}
}

// Name returns the source name.
func (t *Text) Name() string { return t.name }

// Latest returns the newest message.
func (t *Text) Latest() (Reading, bool) { return t.buf.Latest() }

// Listen receives posted messages until ctx is cancelled.
func (t *Text) Listen(ctx context.Context) error {
	ch := t.box.subscribe()
	defer t.box.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			msg = strings.TrimSpace(msg)
			if msg == "" {
				continue
			}
			if t.prefix != "" {
				msg = t.prefix + " " + msg
			}
			t.buf.Set(Reading{Source: t.name, Text: msg})
		}
	}
}
