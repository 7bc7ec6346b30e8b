package simulators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/nugget/thane-cortex/internal/actions"
)

func TestLog_Ring(t *testing.T) {
	l := NewLog(2, nil)
	l.Simulate([]actions.Action{{Type: "a"}})
	l.Simulate([]actions.Action{{Type: "b"}})
	l.Simulate([]actions.Action{{Type: "c"}, {Type: "d"}})

	got := l.Recent()
	if len(got) != 2 {
		t.Fatalf("Recent() len = %d, want 2", len(got))
	}
	if got[0][0].Type != "b" || got[1][1].Type != "d" {
		t.Errorf("Recent() = %v", got)
	}
}

type failingSim struct{ Log }

func (f *failingSim) Name() string                  { return "broken" }
func (f *failingSim) Run(ctx context.Context) error { return errors.New("no physics") }

func TestOrchestrator(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLog(5, nil)
	o := NewOrchestrator([]Simulator{l}, nil)

	o.Promise(nil)
	o.Promise([]actions.Action{{Type: "speak", Value: "hi"}})
	if n := len(l.Recent()); n != 1 {
		t.Errorf("simulator saw %d sets, want 1", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Start(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() = %v, want nil", err)
	}
}

func TestOrchestrator_RunError(t *testing.T) {
	o := NewOrchestrator([]Simulator{&failingSim{}}, nil)
	err := o.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "simulator broken") {
		t.Errorf("Start() = %v, want simulator broken error", err)
	}
}
