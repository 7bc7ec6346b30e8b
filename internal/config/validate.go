package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Rule types understood by the mode tracker.
const (
	RuleManual         = "manual"
	RuleInputTriggered = "input_triggered"
	RuleTimeBased      = "time_based"
	RuleContextAware   = "context_aware"
)

// Speech sinks.
const (
	SinkLog           = "log"
	SinkMQTT          = "mqtt"
	SinkHomeAssistant = "homeassistant"
)

// Validate checks the configuration for structural problems and returns
// every problem found, joined. Component type names are checked by
// components.Validate.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	switch c.Speech.Sink {
	case SinkLog:
	case SinkMQTT:
		if !c.MQTT.Configured() {
			errs = append(errs, errors.New("speech.sink mqtt requires mqtt.broker"))
		}
	case SinkHomeAssistant:
		if !c.HomeAssistant.Configured() {
			errs = append(errs, errors.New("speech.sink homeassistant requires homeassistant.url and homeassistant.token"))
		}
		if c.Speech.TTSEntity == "" {
			errs = append(errs, errors.New("speech.sink homeassistant requires speech.tts_entity"))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.sink %q must be log, mqtt or homeassistant", c.Speech.Sink))
	}
	if c.Speech.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("speech.queue_size %d must not be negative", c.Speech.QueueSize))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts %d must be at least 1", c.Retry.MaxAttempts))
	}

	errs = append(errs, c.Modes.validate()...)
	return errors.Join(errs...)
}

func (m *ModeSystemConfig) validate() []error {
	var errs []error

	if len(m.Modes) == 0 {
		return []error{errors.New("modes: at least one mode is required")}
	}
	if m.DefaultMode == "" {
		errs = append(errs, errors.New("modes.default_mode is required"))
	} else if _, ok := m.Modes[m.DefaultMode]; !ok {
		errs = append(errs, fmt.Errorf("modes.default_mode %q is not a defined mode", m.DefaultMode))
	}

	names := make([]string, 0, len(m.Modes))
	for name := range m.Modes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mode := m.Modes[name]
		if mode.Hertz <= 0 {
			errs = append(errs, fmt.Errorf("mode %s: hertz must be > 0, got %v", name, mode.Hertz))
		}
		if mode.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("mode %s: timeout_seconds must not be negative", name))
		}
		for i, in := range mode.Inputs {
			if in.Type == "" {
				errs = append(errs, fmt.Errorf("mode %s: input %d: missing type", name, i))
			}
		}
		seen := make(map[string]bool, len(mode.Actions))
		for i, a := range mode.Actions {
			if a.Name == "" {
				errs = append(errs, fmt.Errorf("mode %s: action %d: missing name", name, i))
				continue
			}
			if seen[a.Name] {
				errs = append(errs, fmt.Errorf("mode %s: duplicate action %q", name, a.Name))
			}
			seen[a.Name] = true
			if a.Connector == "" {
				errs = append(errs, fmt.Errorf("mode %s: action %s: missing connector", name, a.Name))
			}
		}
		for i, s := range mode.Simulators {
			if s.Type == "" {
				errs = append(errs, fmt.Errorf("mode %s: simulator %d: missing type", name, i))
			}
		}
		for i, b := range mode.Backgrounds {
			if b.Type == "" {
				errs = append(errs, fmt.Errorf("mode %s: background %d: missing type", name, i))
			}
		}
	}

	validTypes := []string{RuleManual, RuleInputTriggered, RuleTimeBased, RuleContextAware}
	for i, r := range m.TransitionRules {
		if r.From != "*" {
			if _, ok := m.Modes[r.From]; !ok {
				errs = append(errs, fmt.Errorf("transition_rules[%d]: from %q is not a defined mode", i, r.From))
			}
		}
		if _, ok := m.Modes[r.To]; !ok {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: to %q is not a defined mode", i, r.To))
		}
		if r.From == r.To {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: from and to are both %q", i, r.To))
		}
		if !slices.Contains(validTypes, r.Type) {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: unknown type %q", i, r.Type))
		}
		if r.Type == RuleInputTriggered && len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: input_triggered rule needs keywords", i))
		}
		if r.Type == RuleContextAware && r.Condition == "" {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: context_aware rule needs a condition", i))
		}
		if r.CooldownSeconds < 0 {
			errs = append(errs, fmt.Errorf("transition_rules[%d]: cooldown_seconds must not be negative", i))
		}
	}

	return errs
}
