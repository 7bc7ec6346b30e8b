package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type recordingConnector struct {
	mu   sync.Mutex
	seen []Action
	err  error
}

func (c *recordingConnector) Name() string { return "record" }

func (c *recordingConnector) Connect(_ context.Context, a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, a)
	return c.err
}

func (c *recordingConnector) actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.seen...)
}

// waitFlush polls FlushPromises until want results accumulate.
func waitFlush(t *testing.T, o *Orchestrator, want int) []Result {
	t.Helper()
	var all []Result
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done, _ := o.FlushPromises()
		all = append(all, done...)
		if len(all) >= want {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d results, want %d", len(all), want)
	return nil
}

func TestOrchestrator_PromiseAndFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingConnector{}
	o := NewOrchestrator(OrchestratorConfig{
		Bindings: []Binding{{Name: "speak", Connector: rec}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()

	o.Promise([]Action{{Type: "speak", Value: "one"}, {Type: "speak", Value: "two"}})
	results := waitFlush(t, o, 2)

	for _, r := range results {
		if !r.OK() {
			t.Errorf("result %s failed: %v", r.ID, r.Err)
		}
		if r.ID == "" {
			t.Error("result has empty promise id")
		}
	}
	got := rec.actions()
	if len(got) != 2 || got[0].Value != "one" || got[1].Value != "two" {
		t.Errorf("connector saw %v, want one then two", got)
	}

	if _, pending := o.FlushPromises(); pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() = %v, want nil on cancel", err)
	}
}

func TestOrchestrator_UnknownAction(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOrchestrator(OrchestratorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()

	o.Promise([]Action{{Type: "teleport"}})
	results := waitFlush(t, o, 1)
	if !errors.Is(results[0].Err, ErrUnknownAction) {
		t.Errorf("Err = %v, want ErrUnknownAction", results[0].Err)
	}

	cancel()
	<-done
}

func TestOrchestrator_ConnectorError(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingConnector{err: errors.New("offline")}
	o := NewOrchestrator(OrchestratorConfig{
		Bindings: []Binding{{Name: "lights", Connector: rec}},
		Workers:  3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()

	o.Promise([]Action{{Type: "lights", Value: "on"}})
	results := waitFlush(t, o, 1)
	if results[0].OK() {
		t.Error("OK() = true for failing connector")
	}
	if got := results[0].Summary(); got != "lights(on) failed: offline" {
		t.Errorf("Summary() = %q", got)
	}

	cancel()
	<-done
}

func TestOrchestrator_PendingBeforeStart(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{
		Bindings: []Binding{{Name: "speak", Connector: &LogConnector{}}},
	})
	o.Promise([]Action{{Type: "speak"}, {Type: "speak"}})
	o.Promise(nil)

	done, pending := o.FlushPromises()
	if len(done) != 0 || pending != 2 {
		t.Errorf("FlushPromises() = %d done, %d pending; want 0, 2", len(done), pending)
	}
}

func TestOrchestrator_Catalog(t *testing.T) {
	log := &LogConnector{}
	o := NewOrchestrator(OrchestratorConfig{
		Bindings: []Binding{
			{Name: "speak", Description: "Say something", Connector: log},
			{Name: "move", Description: "Move", Connector: log},
		},
	})
	cat := o.Catalog()
	if len(cat) != 2 || cat[0].Name != "speak" || cat[1].Name != "move" {
		t.Errorf("Catalog() = %+v, want speak, move", cat)
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		a    Action
		want string
	}{
		{Action{Type: "stop"}, "stop"},
		{Action{Type: "speak", Value: "hi"}, "speak(hi)"},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.a, got, tt.want)
		}
	}
}
