package modes

import (
	"testing"
	"time"

	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/events"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, rules ...config.TransitionRule) (*Tracker, *fakeClock) {
	t.Helper()
	c := testSystemConfig()
	c.TransitionRules = rules
	sys, err := FromConfig(c, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 5, 4, 22, 0, 0, 0, time.UTC)}
	tr := NewTracker(sys, nil, nil)
	tr.now = clock.now
	tr.enteredAt = clock.now()
	return tr, clock
}

func TestTracker_StartsOnDefault(t *testing.T) {
	tr, _ := newTestTracker(t)
	if tr.Current() != "idle" || tr.Previous() != "" {
		t.Errorf("Current/Previous = %q/%q, want idle/empty", tr.Current(), tr.Previous())
	}
}

func TestTracker_RequestTransition(t *testing.T) {
	bus := events.New()
	evts := bus.Subscribe(4)
	defer bus.Unsubscribe(evts)

	tr, _ := newTestTracker(t)
	tr.bus = bus

	var calls [][2]string
	tr.OnTransition(func(from, to string) bool {
		calls = append(calls, [2]string{from, to})
		return true
	})

	if tr.RequestTransition("ghost", "") {
		t.Error("transition to unknown mode accepted")
	}
	if tr.RequestTransition("idle", "") {
		t.Error("transition to current mode accepted")
	}
	if !tr.RequestTransition("guard", "operator") {
		t.Fatal("transition to guard rejected")
	}

	if tr.Current() != "guard" || tr.Previous() != "idle" {
		t.Errorf("Current/Previous = %q/%q, want guard/idle", tr.Current(), tr.Previous())
	}
	if len(calls) != 1 || calls[0] != [2]string{"idle", "guard"} {
		t.Errorf("callback calls = %v", calls)
	}

	h := tr.History()
	if len(h) != 1 || h[0].Reason != "operator" || !h[0].Accepted {
		t.Errorf("History() = %+v", h)
	}

	select {
	case e := <-evts:
		if e.Kind != events.KindTransitionRequested || e.Data["to"] != "guard" {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Error("no transition event published")
	}
}

func TestTracker_CallbackRejects(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.OnTransition(func(from, to string) bool { return false })

	if tr.RequestTransition("patrol", "") {
		t.Error("RequestTransition() = true when callback rejected")
	}
	if tr.Current() != "idle" {
		t.Errorf("Current() = %q after rejected switch, want idle", tr.Current())
	}
	if h := tr.History(); len(h) != 1 || h[0].Accepted {
		t.Errorf("History() = %+v, want one rejected entry", h)
	}
}

func TestTracker_InputTriggered(t *testing.T) {
	tr, _ := newTestTracker(t,
		config.TransitionRule{From: "idle", To: "patrol", Type: config.RuleInputTriggered, Keywords: []string{"look around"}},
	)

	if _, ok := tr.Evaluate(""); ok {
		t.Error("empty input switched mode")
	}
	if _, ok := tr.Evaluate("what time is it"); ok {
		t.Error("unrelated input switched mode")
	}
	to, ok := tr.Evaluate("Please LOOK AROUND the house")
	if !ok || to != "patrol" {
		t.Errorf("Evaluate() = %q, %v; want patrol, true", to, ok)
	}
	if tr.Current() != "patrol" {
		t.Errorf("Current() = %q, want patrol", tr.Current())
	}

	// The rule only applies from idle.
	if _, ok := tr.Evaluate("look around"); ok {
		t.Error("rule from idle fired in patrol")
	}
}

func TestTracker_PriorityOrder(t *testing.T) {
	tr, _ := newTestTracker(t,
		config.TransitionRule{From: "*", To: "patrol", Type: config.RuleInputTriggered, Keywords: []string{"intruder"}, Priority: 1},
		config.TransitionRule{From: "*", To: "guard", Type: config.RuleInputTriggered, Keywords: []string{"intruder"}, Priority: 10},
	)

	if to, _ := tr.Evaluate("intruder in the garden"); to != "guard" {
		t.Errorf("Evaluate() = %q, want higher-priority guard", to)
	}
}

func TestTracker_Cooldown(t *testing.T) {
	tr, clock := newTestTracker(t,
		config.TransitionRule{From: "*", To: "guard", Type: config.RuleInputTriggered, Keywords: []string{"alarm"}, CooldownSeconds: 30},
	)

	if _, ok := tr.Evaluate("alarm"); !ok {
		t.Fatal("first alarm did not switch")
	}
	tr.SetCurrent("idle")

	clock.advance(10 * time.Second)
	if _, ok := tr.Evaluate("alarm"); ok {
		t.Error("rule fired during cooldown")
	}

	clock.advance(25 * time.Second)
	if _, ok := tr.Evaluate("alarm"); !ok {
		t.Error("rule did not fire after cooldown")
	}
}

func TestTracker_TimeBased(t *testing.T) {
	tr, clock := newTestTracker(t,
		config.TransitionRule{From: "patrol", To: "idle", Type: config.RuleTimeBased},
	)
	if !tr.RequestTransition("patrol", "") {
		t.Fatal("could not enter patrol")
	}

	clock.advance(59 * time.Second)
	if _, ok := tr.Evaluate(""); ok {
		t.Error("timeout fired early")
	}
	clock.advance(time.Second)
	if to, ok := tr.Evaluate(""); !ok || to != "idle" {
		t.Errorf("Evaluate() = %q, %v after timeout; want idle, true", to, ok)
	}
}

func TestTracker_ContextAware(t *testing.T) {
	tr, clock := newTestTracker(t,
		config.TransitionRule{From: "idle", To: "guard", Type: config.RuleContextAware,
			Condition: `hour >= 22 && seconds_in_mode > 5 && previous == ""`},
	)

	if _, ok := tr.Evaluate(""); ok {
		t.Error("condition fired before seconds_in_mode threshold")
	}
	clock.advance(6 * time.Second)
	if to, ok := tr.Evaluate(""); !ok || to != "guard" {
		t.Errorf("Evaluate() = %q, %v; want guard, true", to, ok)
	}
}

func TestTracker_ManualRulesNeverFire(t *testing.T) {
	tr, _ := newTestTracker(t, config.TransitionRule{From: "*", To: "guard"})
	if _, ok := tr.Evaluate("anything"); ok {
		t.Error("manual rule fired from Evaluate")
	}
}

func TestTracker_SetCurrentAndClearPrevious(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RequestTransition("patrol", "")

	tr.SetCurrent("idle")
	if tr.Current() != "idle" || tr.Previous() != "patrol" {
		t.Errorf("after SetCurrent: %q/%q, want idle/patrol", tr.Current(), tr.Previous())
	}
	tr.ClearPrevious()
	if tr.Previous() != "" {
		t.Errorf("Previous() = %q after ClearPrevious", tr.Previous())
	}
}

func TestTracker_Revert(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RequestTransition("patrol", "")
	tr.RequestTransition("idle", "")
	if tr.Previous() != "patrol" {
		t.Fatalf("Previous() = %q, want patrol", tr.Previous())
	}

	tr.Revert("patrol")
	if tr.Current() != "patrol" || tr.Previous() != "idle" {
		t.Errorf("after Revert: %q/%q, want patrol/idle", tr.Current(), tr.Previous())
	}

	tr.Revert("patrol")
	if tr.Current() != "patrol" || tr.Previous() != "idle" {
		t.Errorf("Revert to current changed state: %q/%q", tr.Current(), tr.Previous())
	}
}

func TestTracker_HistoryBounded(t *testing.T) {
	tr, _ := newTestTracker(t)
	targets := []string{"patrol", "idle"}
	for i := range maxHistory + 10 {
		tr.RequestTransition(targets[i%2], "")
	}
	if n := len(tr.History()); n != maxHistory {
		t.Errorf("History() len = %d, want %d", n, maxHistory)
	}
}

func TestTriggerInput(t *testing.T) {
	var ti TriggerInput
	ti.Set("go to guard")
	if got := ti.Take(); got != "go to guard" {
		t.Errorf("Take() = %q", got)
	}
	if got := ti.Take(); got != "" {
		t.Errorf("second Take() = %q, want empty", got)
	}
}
