package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// ModeRequestResponse answers POST /v1/mode/{name}.
type ModeRequestResponse struct {
	Target   string `json:"target"`
	Accepted bool   `json:"accepted"`
	Current  string `json:"current"`
}

// InputRequest is the body of POST /v1/input.
type InputRequest struct {
	Text string `json:"text"`
}

// InputResponse reports how many text inputs received the message.
type InputResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handleModes(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.cfg.Modes.AvailableModes())
}

func (s *Server) handleMode(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.cfg.Modes.ModeInfo())
}

// handleModeRequest asks for a manual switch. 202 means the tracker
// accepted the request and the transition is queued; 409 means it was
// rejected (already in that mode or a transition is in progress).
func (s *Server) handleModeRequest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.cfg.Modes.AvailableModes()[name]; !ok {
		s.errorResponse(w, http.StatusNotFound, "unknown mode "+strconv.Quote(name))
		return
	}

	accepted := s.cfg.Modes.RequestModeChange(name)
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusConflict
	}
	s.logger.Info("manual mode request", "target", name, "accepted", accepted)
	s.respond(w, code, ModeRequestResponse{
		Target:   name,
		Accepted: accepted,
		Current:  s.cfg.Modes.ModeInfo().Name,
	})
}

// handleInput posts operator text to the mode's text inputs and to the
// transition trigger. The wait that follows the next tick is skipped;
// a wait already running is not cut short.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}

	var resp InputResponse
	if s.cfg.Mailbox != nil {
		resp.Delivered = s.cfg.Mailbox.Post(req.Text)
	}
	if s.cfg.Trigger != nil {
		s.cfg.Trigger.Set(req.Text)
	}
	s.cfg.Modes.SkipNextSleep()
	s.respond(w, http.StatusAccepted, resp)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.cfg.Journal.Recent(limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	s.respond(w, http.StatusOK, entries)
}
