// Package api implements the operator HTTP API: mode status and manual
// mode requests, operator text input, service health, the supervisor
// event stream, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/thane-cortex/internal/buildinfo"
	"github.com/nugget/thane-cortex/internal/connwatch"
	"github.com/nugget/thane-cortex/internal/events"
	"github.com/nugget/thane-cortex/internal/opstate"
	"github.com/nugget/thane-cortex/internal/supervisor"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// ModeController is the supervisor surface the API drives.
// *supervisor.Supervisor implements it.
type ModeController interface {
	ModeInfo() supervisor.ModeInfo
	AvailableModes() map[string]supervisor.ModeSummary
	RequestModeChange(target string) bool
	SkipNextSleep()
}

// Poster delivers operator text to listening text inputs.
type Poster interface {
	Post(text string) int
}

// Triggerer receives text for transition rule matching.
type Triggerer interface {
	Set(text string)
}

// HealthReporter reports watched service status.
type HealthReporter interface {
	Status() map[string]connwatch.ServiceStatus
}

// JournalReader returns recent mode journal entries.
type JournalReader interface {
	Recent(limit int) ([]opstate.Entry, error)
}

// Config wires a [Server]. Only Modes is required; endpoints whose
// dependency is nil answer 503.
type Config struct {
	Address  string
	Port     int
	Modes    ModeController
	Mailbox  Poster
	Trigger  Triggerer
	Health   HealthReporter
	Journal  JournalReader
	Bus      *events.Bus
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger.With("component", "api")}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Mode endpoints
	mux.HandleFunc("GET /v1/modes", s.handleModes)
	mux.HandleFunc("GET /v1/mode", s.handleMode)
	mux.HandleFunc("POST /v1/mode/{name}", s.handleModeRequest)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)

	// Operator input
	mux.HandleFunc("POST /v1/input", s.handleInput)

	// Observability
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start serves HTTP requests until ctx is cancelled, then shuts the
// server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API shutdown", "error", err)
		}
	})
	defer stop()

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, v, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"name":    "thane-cortex",
		"version": buildinfo.Version,
		"mode":    s.cfg.Modes.ModeInfo().Name,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, buildinfo.RuntimeInfo())
}
