package supervisor

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/events"
	"github.com/nugget/thane-cortex/internal/llm"
)

func TestTick_PromisesDecision(t *testing.T) {
	h := newHarness(t)
	h.simulator = &recordingSimulator{}
	h.cortex["default"].reply = func(n int) (*llm.Output, error) {
		if n == 1 {
			return &llm.Output{Actions: []actions.Action{{Type: "record", Value: "lights"}}}, nil
		}
		return nil, nil
	}
	h.start()

	h.sources["default"].push("motion in the hallway")

	waitFor(t, "action executed", func() bool { return len(h.connector.actions()) == 1 })
	if got := h.simulator.actions(); len(got) != 1 || got[0].Value != "lights" {
		t.Errorf("simulated actions = %v", got)
	}

	// The next tick reports the finished action back to the engine.
	waitFor(t, "second prompt", func() bool { return len(h.cortex["default"].asked()) >= 2 })
	prompts := h.cortex["default"].asked()
	if !strings.Contains(prompts[0], "motion in the hallway") || !strings.Contains(prompts[0], "- record: remember a value") {
		t.Errorf("first prompt = %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "record(lights) done") {
		t.Errorf("second prompt = %q, want result of previous action", prompts[1])
	}

	if got := testutil.ToFloat64(h.sup.metrics.ticks.WithLabelValues(tickDecision)); got != 1 {
		t.Errorf("decision ticks = %v, want 1", got)
	}
}

func TestTick_IdleWithoutInput(t *testing.T) {
	h := newHarness(t)
	h.start()

	waitFor(t, "idle ticks", func() bool {
		return testutil.ToFloat64(h.sup.metrics.ticks.WithLabelValues(tickIdle)) >= 3
	})
	if n := len(h.cortex["default"].asked()); n != 0 {
		t.Errorf("cortex asked %d times without input", n)
	}
}

func TestTick_ErrorBacksOff(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.cortex["default"].reply = func(int) (*llm.Output, error) {
		calls.Add(1)
		return nil, errors.New("model overloaded")
	}
	h.start()

	h.sources["default"].push("first")
	e := h.waitEvent(events.KindTickError)
	if !strings.Contains(e.Data["error"].(string), "model overloaded") {
		t.Errorf("tick error event = %+v", e.Data)
	}

	// Input arriving during the back-off waits for it.
	h.sources["default"].push("second")
	time.Sleep(tickErrorBackoff / 2)
	if n := calls.Load(); n != 1 {
		t.Errorf("cortex called %d times during back-off, want 1", n)
	}
	waitFor(t, "tick after back-off", func() bool { return calls.Load() == 2 })

	if err := h.stop(); err != nil {
		t.Errorf("Run() = %v, want nil after tick errors", err)
	}
}

func TestTick_SwitchPreemptsDecision(t *testing.T) {
	h := newHarness(t, withRules(config.TransitionRule{
		From:     "default",
		To:       "advanced",
		Type:     config.RuleInputTriggered,
		Keywords: []string{"advanced mode"},
	}))
	h.cortex["default"].reply = func(int) (*llm.Output, error) {
		return &llm.Output{Actions: []actions.Action{{Type: "record", Value: "stale"}}}, nil
	}
	h.start()

	h.sup.Trigger().Set("please enter advanced mode")
	h.sources["default"].push("please enter advanced mode")

	h.waitEvent(events.KindModeTransition)
	h.waitSettled()
	h.assertRunning("advanced")

	if n := len(h.cortex["default"].asked()); n != 0 {
		t.Errorf("default cortex asked %d times, want 0", n)
	}
	if got := h.connector.actions(); len(got) != 0 {
		t.Errorf("stale actions executed: %v", got)
	}
	if got := testutil.ToFloat64(h.sup.metrics.ticks.WithLabelValues(tickSwitched)); got != 1 {
		t.Errorf("switched ticks = %v, want 1", got)
	}
}

func TestTick_NotInitialized(t *testing.T) {
	h := newHarness(t)

	result, err := h.sup.tick(t.Context())
	if err != nil || result != tickIdle {
		t.Errorf("tick() = %q, %v; want idle, nil", result, err)
	}
}

func TestTickMetricHelp(t *testing.T) {
	h := newHarness(t)
	desc := h.sup.metrics.ticks.WithLabelValues(tickIdle).Desc().String()
	for _, result := range tickResults {
		if !strings.Contains(desc, result) {
			t.Errorf("ticks_total help does not list %q: %s", result, desc)
		}
	}
	if strings.Contains(desc, "prompt") {
		t.Errorf("ticks_total help lists an unrecorded result: %s", desc)
	}
}

func TestSkipNextSleep(t *testing.T) {
	h := newHarness(t)
	h.sys.Modes["default"].Hertz = 0.2
	h.sup.SkipNextSleep()
	h.start()

	idle := func() float64 { return testutil.ToFloat64(h.sup.metrics.ticks.WithLabelValues(tickIdle)) }

	// The initial tick is followed immediately by a second one, then the
	// five second period applies.
	waitFor(t, "second tick", func() bool { return idle() == 2 })
	time.Sleep(100 * time.Millisecond)
	if got := idle(); got != 2 {
		t.Errorf("idle ticks = %v, want 2", got)
	}
}
