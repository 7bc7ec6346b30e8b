package api

import (
	"net/http"

	"github.com/nugget/thane-cortex/internal/connwatch"
)

// HealthResponse answers GET /v1/health.
type HealthResponse struct {
	Status        string                             `json:"status"` // healthy or degraded
	Mode          string                             `json:"mode"`
	Initialized   bool                               `json:"initialized"`
	Transitioning bool                               `json:"transitioning"`
	Services      map[string]connwatch.ServiceStatus `json:"services,omitempty"`
}

// handleHealth answers 200 when the mode is initialized and every
// watched service is ready, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := s.cfg.Modes.ModeInfo()
	resp := HealthResponse{
		Status:        "healthy",
		Mode:          info.Name,
		Initialized:   info.Initialized,
		Transitioning: info.Transitioning,
	}
	if s.cfg.Health != nil {
		resp.Services = s.cfg.Health.Status()
	}

	healthy := info.Initialized
	for _, st := range resp.Services {
		healthy = healthy && st.Ready
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.respond(w, code, resp)
}
