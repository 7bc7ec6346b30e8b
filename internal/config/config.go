// Package config handles thane-cortex configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml,
// ~/.config/thane-cortex/config.yaml, /etc/thane-cortex/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thane-cortex", "config.yaml"))
	}

	paths = append(paths, "/etc/thane-cortex/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all thane-cortex configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Models        ModelsConfig        `yaml:"models"`
	Speech        SpeechConfig        `yaml:"speech"`
	Retry         RetryConfig         `yaml:"retry"`
	Modes         ModeSystemConfig    `yaml:"modes"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the operator API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether enough settings are present to connect.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// MQTTConfig defines the broker connection shared by every MQTT input,
// action connector, simulator and the speech sink.
type MQTTConfig struct {
	Broker    string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
	KeepAlive int    `yaml:"keep_alive_sec"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// ModelsConfig defines the decision engine backend.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Default   string `yaml:"default"`
}

// SpeechConfig selects where spoken announcements go.
type SpeechConfig struct {
	// Sink is one of "log", "mqtt" or "homeassistant".
	Sink string `yaml:"sink"`
	// Topic is the MQTT topic announcements are published to (mqtt sink).
	Topic string `yaml:"topic"`
	// TTSEntity and MediaPlayer address tts.speak (homeassistant sink).
	TTSEntity   string `yaml:"tts_entity"`
	MediaPlayer string `yaml:"media_player"`
	// QueueSize bounds pending announcements. Extra messages are dropped.
	QueueSize int `yaml:"queue_size"`
}

// RetryConfig tunes the retry wrapper used for decision engine calls.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	BaseTimeoutSec int     `yaml:"base_timeout_sec"`
}

// ModeSystemConfig is the YAML form of the mode registry.
type ModeSystemConfig struct {
	Name                   string                `yaml:"name"`
	DefaultMode            string                `yaml:"default_mode"`
	TransitionAnnouncement bool                  `yaml:"transition_announcement"`
	Modes                  map[string]ModeConfig `yaml:"modes"`
	TransitionRules        []TransitionRule      `yaml:"transition_rules"`
}

// ModeConfig describes a single mode.
type ModeConfig struct {
	DisplayName    string            `yaml:"display_name"`
	Description    string            `yaml:"description"`
	Hertz          float64           `yaml:"hertz"`
	EntryMessage   string            `yaml:"entry_message"`
	ExitMessage    string            `yaml:"exit_message"`
	TimeoutSeconds float64           `yaml:"timeout_seconds"`
	SystemPrompt   string            `yaml:"system_prompt"`
	Model          string            `yaml:"model"` // Overrides models.default
	Inputs         []ComponentConfig `yaml:"inputs"`
	Actions        []ActionConfig    `yaml:"actions"`
	Simulators     []ComponentConfig `yaml:"simulators"`
	Backgrounds    []ComponentConfig `yaml:"backgrounds"`
}

// ComponentConfig names a component type and carries its raw settings.
// Config is decoded by the component factory for that type.
type ComponentConfig struct {
	Type   string    `yaml:"type"`
	Config yaml.Node `yaml:"config"`
}

// ActionConfig binds an action name the decision engine can emit to a
// connector type.
type ActionConfig struct {
	Name        string    `yaml:"name"`
	Connector   string    `yaml:"connector"`
	Description string    `yaml:"description"`
	Config      yaml.Node `yaml:"config"`
}

// TransitionRule is the YAML form of a mode transition rule.
type TransitionRule struct {
	From            string   `yaml:"from"` // mode name or "*"
	To              string   `yaml:"to"`
	Type            string   `yaml:"type"` // manual, input_triggered, time_based, context_aware
	Keywords        []string `yaml:"keywords"`
	Condition       string   `yaml:"condition"`
	Priority        int      `yaml:"priority"`
	CooldownSeconds float64  `yaml:"cooldown_seconds"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// UnsetEnv returns the sorted names of environment variables that data
// references but that are not set. Parse expands them to the empty
// string.
func UnsetEnv(data []byte) []string {
	seen := make(map[string]bool)
	os.Expand(string(data), func(name string) string {
		if _, ok := os.LookupEnv(name); !ok && name != "" {
			seen[name] = true
		}
		return ""
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a configuration with every default applied and no modes.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8090
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "thane-cortex"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "thane-cortex"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30
	}
	if c.Speech.Sink == "" {
		c.Speech.Sink = SinkLog
	}
	if c.Speech.QueueSize == 0 {
		c.Speech.QueueSize = 16
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2.0
	}
	if c.Retry.BaseTimeoutSec == 0 {
		c.Retry.BaseTimeoutSec = 10
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	for name, m := range c.Modes.Modes {
		if m.Hertz == 0 {
			m.Hertz = 1
		}
		if m.DisplayName == "" {
			m.DisplayName = name
		}
		c.Modes.Modes[name] = m
	}
	for i := range c.Modes.TransitionRules {
		if c.Modes.TransitionRules[i].Type == "" {
			c.Modes.TransitionRules[i].Type = RuleManual
		}
	}
}
