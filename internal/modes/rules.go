package modes

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nugget/thane-cortex/internal/config"
)

// Rule is a compiled transition rule.
type Rule struct {
	From      string // mode name or "*"
	To        string
	Type      string
	Keywords  []string
	Condition string
	Priority  int
	Cooldown  time.Duration

	program *vm.Program
}

// ruleEnv is the context a rule is evaluated against.
type ruleEnv struct {
	mode        string
	previous    string
	input       string
	timeInMode  time.Duration
	modeTimeout time.Duration
	now         time.Time
}

func (e ruleEnv) vars() map[string]any {
	return map[string]any{
		"mode":            e.mode,
		"previous":        e.previous,
		"input":           e.input,
		"seconds_in_mode": e.timeInMode.Seconds(),
		"hour":            e.now.Hour(),
		"weekday":         e.now.Weekday().String(),
	}
}

func compileRule(r config.TransitionRule) (Rule, error) {
	rule := Rule{
		From:      r.From,
		To:        r.To,
		Type:      r.Type,
		Condition: r.Condition,
		Priority:  r.Priority,
		Cooldown:  time.Duration(r.CooldownSeconds * float64(time.Second)),
	}
	if rule.Type == "" {
		rule.Type = config.RuleManual
	}
	for _, k := range r.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			rule.Keywords = append(rule.Keywords, k)
		}
	}

	switch rule.Type {
	case config.RuleManual, config.RuleTimeBased:
	case config.RuleInputTriggered:
		if len(rule.Keywords) == 0 {
			return Rule{}, fmt.Errorf("input_triggered rule %s->%s has no keywords", r.From, r.To)
		}
	case config.RuleContextAware:
		program, err := expr.Compile(r.Condition, expr.Env(ruleEnv{}.vars()), expr.AsBool())
		if err != nil {
			return Rule{}, fmt.Errorf("compile condition %q: %w", r.Condition, err)
		}
		rule.program = program
	default:
		return Rule{}, fmt.Errorf("unknown rule type %q", rule.Type)
	}
	return rule, nil
}

// appliesFrom reports whether the rule can fire while in mode.
func (r *Rule) appliesFrom(mode string) bool {
	return (r.From == "*" || r.From == mode) && r.To != mode
}

// matches evaluates the rule's trigger. Manual rules never match.
func (r *Rule) matches(env ruleEnv) (bool, error) {
	switch r.Type {
	case config.RuleInputTriggered:
		if env.input == "" {
			return false, nil
		}
		text := strings.ToLower(env.input)
		for _, k := range r.Keywords {
			if strings.Contains(text, k) {
				return true, nil
			}
		}
		return false, nil
	case config.RuleTimeBased:
		return env.modeTimeout > 0 && env.timeInMode >= env.modeTimeout, nil
	case config.RuleContextAware:
		out, err := expr.Run(r.program, env.vars())
		if err != nil {
			return false, err
		}
		ok, _ := out.(bool)
		return ok, nil
	default:
		return false, nil
	}
}

// reason describes why the rule fired.
func (r *Rule) reason() string {
	switch r.Type {
	case config.RuleInputTriggered:
		return "input matched " + strings.Join(r.Keywords, "|")
	case config.RuleTimeBased:
		return "mode timeout"
	case config.RuleContextAware:
		return "condition " + r.Condition
	default:
		return r.Type
	}
}
