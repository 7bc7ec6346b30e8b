package inputs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestBuffer(t *testing.T) {
	var b Buffer
	if _, fresh := b.Latest(); fresh {
		t.Fatal("empty buffer reported fresh reading")
	}
	if _, ok := b.Peek(); ok {
		t.Fatal("empty buffer Peek() ok")
	}

	b.Set(Reading{Text: "hello"})
	r, fresh := b.Latest()
	if !fresh || r.Text != "hello" {
		t.Errorf("Latest() = %+v, %v; want hello, true", r, fresh)
	}
	if r.Time.IsZero() {
		t.Error("Set did not stamp time")
	}

	if _, fresh := b.Latest(); fresh {
		t.Error("second Latest() still fresh")
	}
	if r, ok := b.Peek(); !ok || r.Text != "hello" {
		t.Errorf("Peek() = %+v, %v after consume", r, ok)
	}
}

// waitFresh polls src until it yields a fresh reading.
func waitFresh(t *testing.T, src Source) Reading {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := src.Latest(); ok {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s produced no reading", src.Name())
	return Reading{}
}

func TestText_ListenAndRelisten(t *testing.T) {
	defer goleak.VerifyNone(t)

	box := NewMailbox()
	src := NewText("", "Operator said:", box)

	for round := range 2 {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- src.Listen(ctx) }()

		// Wait for the subscription before posting.
		deadline := time.Now().Add(2 * time.Second)
		for box.Post("  go to the kitchen ") == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("round %d: source never subscribed", round)
			}
			time.Sleep(5 * time.Millisecond)
		}

		r := waitFresh(t, src)
		if r.Text != "Operator said: go to the kitchen" || r.Source != "text" {
			t.Errorf("round %d: reading = %+v", round, r)
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("round %d: Listen() = %v", round, err)
		}
	}
}

func TestClock(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewClock(time.Millisecond)
	c.now = func() time.Time { return time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx) }()

	r := waitFresh(t, c)
	if r.Text != "It is 07:05 on Monday, March 2." {
		t.Errorf("reading = %q", r.Text)
	}
	cancel()
	<-done
}

type fakeSource struct {
	name    string
	openErr error
	listen  func(ctx context.Context) error
	opened  bool
	closed  bool
}

func (f *fakeSource) Name() string            { return f.name }
func (f *fakeSource) Latest() (Reading, bool) { return Reading{}, false }
func (f *fakeSource) Open(context.Context) error {
	f.opened = true
	return f.openErr
}
func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}
func (f *fakeSource) Listen(ctx context.Context) error {
	if f.listen != nil {
		return f.listen(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestrator_Prepare(t *testing.T) {
	ok := &fakeSource{name: "ok"}
	bad := &fakeSource{name: "bad", openErr: errors.New("refused")}
	after := &fakeSource{name: "after"}

	o := NewOrchestrator([]Source{ok, bad, after}, nil)
	err := o.Prepare(context.Background())
	if err == nil || !strings.Contains(err.Error(), "open input bad") {
		t.Fatalf("Prepare() = %v, want open input bad error", err)
	}
	if !ok.opened || after.opened {
		t.Errorf("opened: ok=%v after=%v; want true, false", ok.opened, after.opened)
	}
	if !ok.closed || bad.closed || after.closed {
		t.Errorf("closed: ok=%v bad=%v after=%v; want true, false, false", ok.closed, bad.closed, after.closed)
	}
}

func TestOrchestrator_ListenCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOrchestrator([]Source{&fakeSource{name: "a"}, &fakeSource{name: "b"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Listen(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestOrchestrator_SourceFailureKeepsOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	failing := &fakeSource{name: "flaky", listen: func(context.Context) error {
		return errors.New("socket closed")
	}}
	steady := &fakeSource{name: "steady"}

	o := NewOrchestrator([]Source{failing, steady}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Listen(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Listen returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	err := <-done
	if err == nil || !strings.Contains(err.Error(), "input flaky") {
		t.Errorf("Listen() = %v, want flaky failure", err)
	}
}
