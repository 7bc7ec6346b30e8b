package modes

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/events"
)

// maxHistory bounds the transition history kept by a Tracker.
const maxHistory = 50

// TransitionFunc is notified of every switch the tracker decides on.
// Returning false rejects the switch; the tracker then leaves its
// current mode unchanged. It is called with the tracker's lock held
// and must not call back into the tracker.
type TransitionFunc func(from, to string) bool

// Transition is a history entry.
type Transition struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
	Accepted bool      `json:"accepted"`
}

// Tracker holds the current and previous mode and decides, once per
// tick or on request, whether to switch. It is safe for concurrent
// use.
type Tracker struct {
	sys    *SystemConfig
	rules  []Rule
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	current  string
	previous string
	// undo is the previous mode before the last committed switch.
	undo      string
	enteredAt time.Time
	lastFired map[int]time.Time
	history   []Transition
	callback  TransitionFunc
}

// NewTracker creates a tracker positioned on the default mode. bus may
// be nil.
func NewTracker(sys *SystemConfig, bus *events.Bus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	rules := append([]Rule(nil), sys.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	t := &Tracker{
		sys:       sys,
		rules:     rules,
		bus:       bus,
		logger:    logger.With("component", "tracker"),
		now:       time.Now,
		current:   sys.DefaultMode,
		lastFired: make(map[int]time.Time),
	}
	t.enteredAt = t.now()
	return t
}

// OnTransition registers the transition callback, replacing any
// previous one.
func (t *Tracker) OnTransition(cb TransitionFunc) {
	t.mu.Lock()
	t.callback = cb
	t.mu.Unlock()
}

// Current returns the current mode name.
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Previous returns the previous mode name, or "" if none.
func (t *Tracker) Previous() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previous
}

// TimeInMode returns how long the current mode has been active.
func (t *Tracker) TimeInMode() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.enteredAt)
}

// History returns the recorded transitions, oldest first.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.history...)
}

// Evaluate checks the automatic rules against input, highest priority
// first. If a rule fires and the callback accepts the switch, Evaluate
// returns the new mode and true.
func (t *Tracker) Evaluate(input string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	env := ruleEnv{
		mode:       t.current,
		previous:   t.previous,
		input:      input,
		timeInMode: now.Sub(t.enteredAt),
		now:        now,
	}
	if def, ok := t.sys.Modes[t.current]; ok {
		env.modeTimeout = def.Timeout
	}

	for i := range t.rules {
		r := &t.rules[i]
		if r.Type == config.RuleManual || !r.appliesFrom(t.current) {
			continue
		}
		if last, ok := t.lastFired[i]; ok && r.Cooldown > 0 && now.Sub(last) < r.Cooldown {
			continue
		}
		if _, ok := t.sys.Modes[r.To]; !ok {
			continue
		}

		ok, err := r.matches(env)
		if err != nil {
			t.logger.Warn("rule evaluation failed", "from", r.From, "to", r.To, "error", err)
			continue
		}
		if !ok {
			continue
		}

		t.lastFired[i] = now
		if t.switchLocked(r.To, r.reason()) {
			return r.To, true
		}
		return "", false
	}
	return "", false
}

// RequestTransition asks for a manual switch to target. It fails for
// unknown modes, for the current mode, and when the callback rejects
// the switch.
func (t *Tracker) RequestTransition(target, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sys.Modes[target]; !ok {
		t.logger.Warn("transition to unknown mode requested", "mode", target)
		return false
	}
	if target == t.current {
		t.logger.Debug("transition to current mode ignored", "mode", target)
		return false
	}
	if reason == "" {
		reason = "manual"
	}
	return t.switchLocked(target, reason)
}

// SetCurrent moves the tracker to mode without notifying the
// callback. Recovery uses it to realign the tracker with the mode that
// is actually running. The mode being left becomes the previous mode.
func (t *Tracker) SetCurrent(mode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode == t.current {
		return
	}
	t.previous = t.current
	t.current = mode
	t.enteredAt = t.now()
}

// Revert undoes the last committed switch when it was made from mode:
// current returns to mode and previous to its value before that
// switch. It does not notify the callback. Any other mode falls back
// to [Tracker.SetCurrent].
func (t *Tracker) Revert(mode string) {
	t.mu.Lock()
	if mode == t.current {
		t.mu.Unlock()
		return
	}
	if mode != t.previous {
		t.mu.Unlock()
		t.SetCurrent(mode)
		return
	}
	t.current = mode
	t.previous = t.undo
	t.enteredAt = t.now()
	t.mu.Unlock()
}

// ClearPrevious forgets the previous mode.
func (t *Tracker) ClearPrevious() {
	t.mu.Lock()
	t.previous = ""
	t.mu.Unlock()
}

func (t *Tracker) switchLocked(to, reason string) bool {
	from := t.current
	accepted := t.callback == nil || t.callback(from, to)

	t.history = append(t.history, Transition{
		From:     from,
		To:       to,
		Reason:   reason,
		At:       t.now(),
		Accepted: accepted,
	})
	if over := len(t.history) - maxHistory; over > 0 {
		t.history = t.history[over:]
	}

	if !accepted {
		t.logger.Warn("mode switch rejected", "from", from, "to", to, "reason", reason)
		return false
	}

	t.undo = t.previous
	t.previous = from
	t.current = to
	t.enteredAt = t.now()
	t.logger.Info("mode switch", "from", from, "to", to, "reason", reason)
	t.bus.Emit(events.SourceTracker, events.KindTransitionRequested, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	return true
}

// TriggerInput holds the latest text that transition rules match
// against. Take consumes it so a phrase triggers at most one switch.
type TriggerInput struct {
	mu   sync.Mutex
	text string
}

// Set replaces the pending trigger text.
func (ti *TriggerInput) Set(text string) {
	ti.mu.Lock()
	ti.text = text
	ti.mu.Unlock()
}

// Take returns and clears the pending trigger text.
func (ti *TriggerInput) Take() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	text := ti.text
	ti.text = ""
	return text
}
