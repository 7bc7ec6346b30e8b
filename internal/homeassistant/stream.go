package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Event represents a Home Assistant event received via WebSocket.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedData represents the data payload for state_changed events.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// wsMessage is the generic WebSocket message format.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrAuthFailed is returned when Home Assistant rejects the token.
var ErrAuthFailed = errors.New("authentication failed")

// EventStream is an authenticated websocket subscribed to one event
// type. It is used by a single reader.
type EventStream struct {
	conn      *websocket.Conn
	eventType string
	logger    *slog.Logger
}

// websocketURL converts the REST base URL to the websocket endpoint.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// DialEvents connects to the websocket API, authenticates and
// subscribes to eventType.
func (c *Client) DialEvents(ctx context.Context, eventType string) (*EventStream, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("connecting to Home Assistant WebSocket", "url", wsURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(16 * 1024 * 1024)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	s := &EventStream{conn: conn, eventType: eventType, logger: c.logger}
	if err := s.handshake(c.token); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})
	return s, nil
}

func (s *EventStream) handshake(token string) error {
	var authReq wsMessage
	if err := s.conn.ReadJSON(&authReq); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	if err := s.conn.WriteJSON(map[string]string{"type": "auth", "access_token": token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsMessage
	if err := s.conn.ReadJSON(&authResp); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch authResp.Type {
	case "auth_ok":
	case "auth_invalid":
		return ErrAuthFailed
	default:
		return fmt.Errorf("unexpected auth response: %s", authResp.Type)
	}

	const subscribeID = 1
	if err := s.conn.WriteJSON(map[string]any{
		"id":         subscribeID,
		"type":       "subscribe_events",
		"event_type": s.eventType,
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.eventType, err)
	}
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read subscribe result: %w", err)
		}
		if msg.Type != "result" || msg.ID != subscribeID {
			continue
		}
		if !msg.Success {
			if msg.Error != nil {
				return fmt.Errorf("subscribe to %s: %s: %s", s.eventType, msg.Error.Code, msg.Error.Message)
			}
			return fmt.Errorf("subscribe to %s failed", s.eventType)
		}
		s.logger.Info("subscribed to events", "event_type", s.eventType)
		return nil
	}
}

// Run delivers events to fn until ctx is cancelled or the connection
// drops. It closes the stream before returning and returns ctx.Err()
// on cancellation.
func (s *EventStream) Run(ctx context.Context, fn func(Event)) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("websocket closed by server")
			}
			return fmt.Errorf("read event: %w", err)
		}
		if msg.Type == "event" && msg.Event != nil {
			fn(*msg.Event)
		}
	}
}

// Close closes the connection.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
