package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/thane-cortex/internal/api"
	"github.com/nugget/thane-cortex/internal/buildinfo"
	"github.com/nugget/thane-cortex/internal/components"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/connwatch"
	"github.com/nugget/thane-cortex/internal/events"
	"github.com/nugget/thane-cortex/internal/homeassistant"
	"github.com/nugget/thane-cortex/internal/inputs"
	"github.com/nugget/thane-cortex/internal/llm"
	"github.com/nugget/thane-cortex/internal/modes"
	"github.com/nugget/thane-cortex/internal/mqtt"
	"github.com/nugget/thane-cortex/internal/opstate"
	"github.com/nugget/thane-cortex/internal/retry"
	"github.com/nugget/thane-cortex/internal/speech"
	"github.com/nugget/thane-cortex/internal/supervisor"
)

// actionWorkers bounds concurrently executing actions per mode.
const actionWorkers = 4

// runServe handles "cortex serve". It loads the configuration, builds
// the shared clients, and runs the supervisor alongside the operator
// API until SIGINT or SIGTERM. A terminal supervisor failure stops the
// process with an error.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting cortex", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate has already accepted the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"modes", len(cfg.Modes.Modes),
		"default_mode", cfg.Modes.DefaultMode,
	)
	if data, err := os.ReadFile(cfgPath); err == nil {
		for _, name := range config.UnsetEnv(data) {
			logger.Warn("config references unset environment variable", "name", name)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	bus := events.New()

	store, err := opstate.NewStore(filepath.Join(cfg.DataDir, "cortex.db"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	if last, err := store.Get(opstate.KeyLastMode); err == nil && last != "" {
		outcome, _ := store.Get(opstate.KeyLastOutcome)
		logger.Info("previous run state", "mode", last, "outcome", outcome)
	}

	connMgr := connwatch.NewManager(logger, bus)
	defer connMgr.Stop()
	probes := map[string]connwatch.ProbeFunc{}

	// --- Shared clients ---

	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL)
	probes["ollama"] = ollama.Ping

	var ha *homeassistant.Client
	if cfg.HomeAssistant.Configured() {
		ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		probes["homeassistant"] = ha.Ping
		logger.Info("home assistant configured", "url", cfg.HomeAssistant.URL)
	}

	var broker *mqtt.Client
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}
		broker = mqtt.New(cfg.MQTT, instanceID, logger)
		probes["mqtt"] = func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return broker.AwaitConnection(awaitCtx)
		}
		logger.Info("mqtt configured", "broker", cfg.MQTT.Broker, "base_topic", cfg.MQTT.BaseTopic, "instance_id", instanceID)
	}

	queue := speech.NewQueue(speechSink(cfg, ha, broker, logger), cfg.Speech.QueueSize, logger, bus)

	retryMgr := retry.New("ollama", retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BackoffFactor: cfg.Retry.BackoffFactor,
		BaseTimeout:   time.Duration(cfg.Retry.BaseTimeoutSec) * time.Second,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --- Mode registry and supervisor ---

	mailbox := inputs.NewMailbox()
	var sup *supervisor.Supervisor
	deps := components.Deps{
		Mailbox:       mailbox,
		Announcer:     queue,
		HomeAssistant: ha,
		MQTTBaseTopic: cfg.MQTT.BaseTopic,
		LLM:           ollama,
		DefaultModel:  cfg.Models.Default,
		Retry:         retryMgr,
		Watch:         connMgr,
		Probes:        probes,
		Status:        func() any { return newStatus(sup, broker, retryMgr) },
		Logger:        logger,
	}
	if broker != nil {
		deps.MQTT = broker
	}

	sys, err := modes.FromConfig(cfg.Modes, components.New(deps))
	if err != nil {
		return fmt.Errorf("build mode registry: %w", err)
	}
	tracker := modes.NewTracker(sys, bus, logger)
	sup = supervisor.New(supervisor.Config{
		System:        sys,
		Tracker:       tracker,
		Announcer:     queue,
		Bus:           bus,
		Registerer:    reg,
		ActionWorkers: actionWorkers,
		Logger:        logger,
	})

	server := api.NewServer(api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Modes:    sup,
		Mailbox:  mailbox,
		Trigger:  sup.Trigger(),
		Health:   connMgr,
		Journal:  store,
		Bus:      bus,
		Gatherer: reg,
		Logger:   logger,
	})

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error {
		opstate.Journal(gctx, bus, store, logger)
		return nil
	})
	if broker != nil {
		g.Go(func() error { return broker.Start(gctx) })
	}
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		if err := sup.Run(gctx); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		// Run only returns nil once gctx is done.
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	}
	logger.Info("cortex stopped")
	return err
}

// speechSink selects where announcements are delivered.
func speechSink(cfg *config.Config, ha *homeassistant.Client, broker *mqtt.Client, logger *slog.Logger) speech.Sink {
	switch cfg.Speech.Sink {
	case config.SinkMQTT:
		topic := cfg.Speech.Topic
		if topic == "" {
			topic = broker.Topic("say")
		}
		return &mqtt.SpeechSink{Publisher: broker, Topic: topic}
	case config.SinkHomeAssistant:
		return homeassistant.NewTTSSink(ha, cfg.Speech.TTSEntity, cfg.Speech.MediaPlayer)
	}
	return &speech.LogSink{Logger: logger}
}

// status is the document the mqtt_status background publishes.
type status struct {
	InstanceID string              `json:"instance_id,omitempty"`
	Version    string              `json:"version"`
	Uptime     string              `json:"uptime"`
	Mode       supervisor.ModeInfo `json:"mode"`
	Cortex     retry.Health        `json:"cortex"`
}

func newStatus(sup *supervisor.Supervisor, broker *mqtt.Client, r *retry.Manager) status {
	st := status{
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().String(),
		Mode:    sup.ModeInfo(),
		Cortex:  r.Health(),
	}
	if broker != nil {
		st.InstanceID = broker.InstanceID()
	}
	return st
}
