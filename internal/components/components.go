// Package components materializes a mode's configured inputs, actions,
// simulators and backgrounds. Each component config names a type; the
// loader decodes the type's settings from YAML and binds the shared
// clients the runtime created at startup.
package components

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/backgrounds"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/connwatch"
	"github.com/nugget/thane-cortex/internal/homeassistant"
	"github.com/nugget/thane-cortex/internal/inputs"
	"github.com/nugget/thane-cortex/internal/llm"
	"github.com/nugget/thane-cortex/internal/modes"
	"github.com/nugget/thane-cortex/internal/mqtt"
	"github.com/nugget/thane-cortex/internal/retry"
	"github.com/nugget/thane-cortex/internal/simulators"
	"github.com/nugget/thane-cortex/internal/speech"
)

// ErrUnavailable is returned when a component needs a client the
// runtime was not configured with.
var ErrUnavailable = errors.New("client not configured")

// Component type names the loader understands.
var (
	InputTypes      = []string{"text", "clock", "mqtt", "homeassistant"}
	ConnectorTypes  = []string{"log", "speak", "homeassistant", "mqtt"}
	SimulatorTypes  = []string{"log", "mqtt"}
	BackgroundTypes = []string{"connwatch", "mqtt_status"}
)

// Validate reports every component in c whose type the loader does not
// know, joined. It does not check that the clients a type needs are
// configured.
func Validate(c config.ModeSystemConfig) error {
	names := make([]string, 0, len(c.Modes))
	for name := range c.Modes {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	check := func(mode, kind string, i int, typ string, known []string) {
		if !slices.Contains(known, typ) {
			errs = append(errs, fmt.Errorf("modes.%s.%s[%d]: unknown type %q (known: %s)",
				mode, kind, i, typ, strings.Join(known, ", ")))
		}
	}
	for _, name := range names {
		m := c.Modes[name]
		for i, in := range m.Inputs {
			check(name, "inputs", i, in.Type, InputTypes)
		}
		for i, a := range m.Actions {
			check(name, "actions", i, a.Connector, ConnectorTypes)
		}
		for i, sim := range m.Simulators {
			check(name, "simulators", i, sim.Type, SimulatorTypes)
		}
		for i, bg := range m.Backgrounds {
			check(name, "backgrounds", i, bg.Type, BackgroundTypes)
		}
	}
	return errors.Join(errs...)
}

// Broker is the MQTT surface components use. *mqtt.Client implements it.
type Broker interface {
	mqtt.Publisher
	mqtt.Subscriber
}

// Deps are the shared clients components bind to. Nil clients make the
// component types that need them fail to load.
type Deps struct {
	Mailbox       *inputs.Mailbox
	Announcer     speech.Announcer
	HomeAssistant *homeassistant.Client
	MQTT          Broker
	MQTTBaseTopic string

	// LLM answers decision prompts. When nil, modes load without a
	// decision engine and only react to transition rules.
	LLM          llm.Client
	DefaultModel string
	Retry        *retry.Manager

	// Watch and Probes serve the connwatch background; Probes maps a
	// service name to its health probe.
	Watch  *connwatch.Manager
	Probes map[string]connwatch.ProbeFunc

	// Status feeds the mqtt_status background.
	Status mqtt.StatusFunc

	Logger *slog.Logger
}

// Loader implements modes.Loader.
type Loader struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a loader.
func New(deps Deps) *Loader {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MQTTBaseTopic == "" {
		deps.MQTTBaseTopic = "cortex"
	}
	return &Loader{deps: deps, logger: deps.Logger}
}

// Load builds fresh components for def. Every call returns new
// instances so a mode can be loaded again after it was stopped.
func (l *Loader) Load(def *modes.Definition) (*modes.Components, error) {
	logger := l.logger.With("mode", def.Name)
	comps := &modes.Components{}

	for i, c := range def.Inputs {
		src, err := l.input(c, logger)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d] (%s): %w", i, c.Type, err)
		}
		comps.Inputs = append(comps.Inputs, src)
	}
	for i, a := range def.Actions {
		conn, err := l.connector(a, logger)
		if err != nil {
			return nil, fmt.Errorf("actions[%d] (%s): %w", i, a.Name, err)
		}
		comps.Actions = append(comps.Actions, actions.Binding{
			Name:        a.Name,
			Description: a.Description,
			Connector:   conn,
		})
	}
	for i, c := range def.Simulators {
		sim, err := l.simulator(c, logger)
		if err != nil {
			return nil, fmt.Errorf("simulators[%d] (%s): %w", i, c.Type, err)
		}
		comps.Simulators = append(comps.Simulators, sim)
	}
	for i, c := range def.Backgrounds {
		bg, err := l.background(c, logger)
		if err != nil {
			return nil, fmt.Errorf("backgrounds[%d] (%s): %w", i, c.Type, err)
		}
		comps.Backgrounds = append(comps.Backgrounds, bg)
	}

	if l.deps.LLM != nil {
		model := def.Model
		if model == "" {
			model = l.deps.DefaultModel
		}
		comps.Cortex = llm.NewCortex(llm.CortexConfig{
			Client:       l.deps.LLM,
			Model:        model,
			SystemPrompt: def.SystemPrompt,
			Bindings:     comps.Actions,
			Retry:        l.deps.Retry,
			Logger:       logger,
		})
	}
	return comps, nil
}

type textConfig struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

type clockConfig struct {
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

func (l *Loader) input(c config.ComponentConfig, logger *slog.Logger) (inputs.Source, error) {
	switch c.Type {
	case "text":
		var cfg textConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.Mailbox == nil {
			return nil, fmt.Errorf("text mailbox: %w", ErrUnavailable)
		}
		return inputs.NewText(cfg.Name, cfg.Prefix, l.deps.Mailbox), nil

	case "clock":
		cfg := clockConfig{IntervalSeconds: 60}
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		return inputs.NewClock(seconds(cfg.IntervalSeconds)), nil

	case "mqtt":
		var cfg mqtt.TopicSourceConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if cfg.Topic == "" {
			return nil, errors.New("topic is required")
		}
		if l.deps.MQTT == nil {
			return nil, fmt.Errorf("mqtt: %w", ErrUnavailable)
		}
		return mqtt.NewTopicSource(l.deps.MQTT, cfg, logger), nil

	case "homeassistant":
		var cfg homeassistant.StateSourceConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.HomeAssistant == nil {
			return nil, fmt.Errorf("homeassistant: %w", ErrUnavailable)
		}
		return homeassistant.NewStateSource(l.deps.HomeAssistant, cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown input type %q", c.Type)
}

func (l *Loader) connector(a config.ActionConfig, logger *slog.Logger) (actions.Connector, error) {
	switch a.Connector {
	case "log":
		return &actions.LogConnector{Logger: logger}, nil

	case "speak":
		if l.deps.Announcer == nil {
			return nil, fmt.Errorf("announcer: %w", ErrUnavailable)
		}
		return &speech.Connector{Announcer: l.deps.Announcer}, nil

	case "homeassistant":
		var cfg homeassistant.ServiceConfig
		if err := decode(a.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.HomeAssistant == nil {
			return nil, fmt.Errorf("homeassistant: %w", ErrUnavailable)
		}
		return homeassistant.NewServiceConnector(l.deps.HomeAssistant, cfg), nil

	case "mqtt":
		cfg := mqtt.PublishConfig{Topic: "actions/" + a.Name}
		if err := decode(a.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.MQTT == nil {
			return nil, fmt.Errorf("mqtt: %w", ErrUnavailable)
		}
		return mqtt.NewPublishConnector(l.deps.MQTT, l.deps.MQTTBaseTopic, cfg), nil
	}
	return nil, fmt.Errorf("unknown connector %q", a.Connector)
}

type logSimulatorConfig struct {
	Size int `yaml:"size"`
}

func (l *Loader) simulator(c config.ComponentConfig, logger *slog.Logger) (simulators.Simulator, error) {
	switch c.Type {
	case "log":
		var cfg logSimulatorConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		return simulators.NewLog(cfg.Size, logger), nil

	case "mqtt":
		var cfg mqtt.SimulatorConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.MQTT == nil {
			return nil, fmt.Errorf("mqtt: %w", ErrUnavailable)
		}
		return mqtt.NewSimulator(l.deps.MQTT, l.deps.MQTTBaseTopic, cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown simulator type %q", c.Type)
}

type watchConfig struct {
	Services        []string `yaml:"services"`
	IntervalSeconds float64  `yaml:"interval_seconds"`
}

func (l *Loader) background(c config.ComponentConfig, logger *slog.Logger) (backgrounds.Background, error) {
	switch c.Type {
	case "connwatch":
		var cfg watchConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.Watch == nil {
			return nil, fmt.Errorf("connwatch: %w", ErrUnavailable)
		}
		backoff := connwatch.DefaultBackoffConfig()
		if cfg.IntervalSeconds > 0 {
			backoff.PollInterval = seconds(cfg.IntervalSeconds)
		}
		w := &backgrounds.Watch{Manager: l.deps.Watch}
		for _, name := range cfg.Services {
			probe, ok := l.deps.Probes[name]
			if !ok {
				return nil, fmt.Errorf("service %q has no probe", name)
			}
			w.Services = append(w.Services, backgrounds.Service{Name: name, Probe: probe, Backoff: backoff})
		}
		return w, nil

	case "mqtt_status":
		var cfg mqtt.StatusConfig
		if err := decode(c.Config, &cfg); err != nil {
			return nil, err
		}
		if l.deps.MQTT == nil {
			return nil, fmt.Errorf("mqtt: %w", ErrUnavailable)
		}
		status := l.deps.Status
		if status == nil {
			status = func() any { return map[string]any{} }
		}
		return mqtt.NewStatusPublisher(l.deps.MQTT, l.deps.MQTTBaseTopic, cfg, status, logger), nil
	}
	return nil, fmt.Errorf("unknown background type %q", c.Type)
}

// decode fills v from n. An absent config leaves v unchanged.
func decode(n yaml.Node, v any) error {
	if n.Kind == 0 {
		return nil
	}
	if err := n.Decode(v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
