// Package modes holds the mode registry: immutable mode definitions,
// the per-mode runtime wiring they resolve into, and the tracker that
// decides when the active mode should change.
package modes

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/backgrounds"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/inputs"
	"github.com/nugget/thane-cortex/internal/llm"
	"github.com/nugget/thane-cortex/internal/simulators"
)

// ErrNoLoader is returned by LoadComponents when the system has no
// component loader.
var ErrNoLoader = errors.New("no component loader configured")

// Definition describes one mode. It is never mutated after load.
type Definition struct {
	Name         string
	DisplayName  string
	Description  string
	Hertz        float64
	EntryMessage string
	ExitMessage  string
	Timeout      time.Duration // zero means no timeout
	SystemPrompt string
	Model        string

	Inputs      []config.ComponentConfig
	Actions     []config.ActionConfig
	Simulators  []config.ComponentConfig
	Backgrounds []config.ComponentConfig
}

// Components is the materialized component set of a mode.
type Components struct {
	Inputs      []inputs.Source
	Actions     []actions.Binding
	Simulators  []simulators.Simulator
	Backgrounds []backgrounds.Background
	Cortex      llm.DecisionEngine
}

// Loader materializes a definition's components.
type Loader interface {
	Load(def *Definition) (*Components, error)
}

// LoaderFunc adapts a function into a [Loader].
type LoaderFunc func(def *Definition) (*Components, error)

// Load calls f.
func (f LoaderFunc) Load(def *Definition) (*Components, error) { return f(def) }

// LoadComponents builds fresh components for d through the system's
// loader.
func (d *Definition) LoadComponents(sys *SystemConfig) (*Components, error) {
	if sys.Loader == nil {
		return nil, ErrNoLoader
	}
	comps, err := sys.Loader.Load(d)
	if err != nil {
		return nil, fmt.Errorf("load components for mode %s: %w", d.Name, err)
	}
	return comps, nil
}

// ToRuntimeConfig combines d with loaded components.
func (d *Definition) ToRuntimeConfig(sys *SystemConfig, comps *Components) *RuntimeConfig {
	return &RuntimeConfig{
		Mode:        d.Name,
		Description: d.Description,
		Hertz:       d.Hertz,
		Inputs:      comps.Inputs,
		Cortex:      comps.Cortex,
		Actions:     comps.Actions,
		Simulators:  comps.Simulators,
		Backgrounds: comps.Backgrounds,
	}
}

// RuntimeConfig is the resolved wiring of the active mode. Its slices
// are not modified after construction, so a struct copy is a safe
// snapshot.
type RuntimeConfig struct {
	Mode        string
	Description string
	Hertz       float64
	Inputs      []inputs.Source
	Cortex      llm.DecisionEngine
	Actions     []actions.Binding
	Simulators  []simulators.Simulator
	Backgrounds []backgrounds.Background
}

// Interval returns the tick period, 1/Hertz.
func (rc *RuntimeConfig) Interval() time.Duration {
	if rc.Hertz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rc.Hertz)
}

// SystemConfig is the mode registry.
type SystemConfig struct {
	Name                   string
	Modes                  map[string]*Definition
	DefaultMode            string
	TransitionAnnouncement bool
	Rules                  []Rule
	Loader                 Loader
}

// Names returns the mode names in sorted order.
func (s *SystemConfig) Names() []string {
	names := make([]string, 0, len(s.Modes))
	for name := range s.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds a registry from its YAML form. The configuration
// is expected to have passed config.Validate; FromConfig still rejects
// a missing default mode and rules that do not compile.
func FromConfig(c config.ModeSystemConfig, loader Loader) (*SystemConfig, error) {
	sys := &SystemConfig{
		Name:                   c.Name,
		Modes:                  make(map[string]*Definition, len(c.Modes)),
		DefaultMode:            c.DefaultMode,
		TransitionAnnouncement: c.TransitionAnnouncement,
		Loader:                 loader,
	}

	for name, m := range c.Modes {
		hertz := m.Hertz
		if hertz <= 0 {
			return nil, fmt.Errorf("mode %s: hertz must be > 0", name)
		}
		sys.Modes[name] = &Definition{
			Name:         name,
			DisplayName:  m.DisplayName,
			Description:  m.Description,
			Hertz:        hertz,
			EntryMessage: m.EntryMessage,
			ExitMessage:  m.ExitMessage,
			Timeout:      time.Duration(m.TimeoutSeconds * float64(time.Second)),
			SystemPrompt: m.SystemPrompt,
			Model:        m.Model,
			Inputs:       m.Inputs,
			Actions:      m.Actions,
			Simulators:   m.Simulators,
			Backgrounds:  m.Backgrounds,
		}
	}

	if _, ok := sys.Modes[sys.DefaultMode]; !ok {
		return nil, fmt.Errorf("default mode %q is not defined", sys.DefaultMode)
	}

	for i, r := range c.TransitionRules {
		rule, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("transition_rules[%d]: %w", i, err)
		}
		sys.Rules = append(sys.Rules, rule)
	}
	return sys, nil
}
