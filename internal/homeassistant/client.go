// Package homeassistant connects modes to Home Assistant. It provides a
// REST client for state reads and service calls, a websocket event
// stream, and the input source, action connector and speech sink built
// on them.
package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/thane-cortex/internal/httpkit"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Home Assistant client.
//
// LAN dials occasionally fail with "no route to host" while the ARP
// entry refreshes; the shared transport retries those once more after
// a short delay.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "homeassistant"),
	}
}

// BaseURL returns the configured server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, falling back to the
// entity ID.
func (s *State) FriendlyName() string {
	if fn, ok := s.Attributes["friendly_name"].(string); ok && fn != "" {
		return fn
	}
	return s.EntityID
}

type apiStatus struct {
	Message string `json:"message"`
}

// Ping checks if the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var status apiStatus
	if err := c.do(ctx, http.MethodGet, "/api/", nil, &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetState retrieves a single entity state.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.do(ctx, http.MethodPost, path, data, nil)
}

func (c *Client) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+c.token)
	return h
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := httpkit.DoJSON(ctx, c.httpClient, method, c.baseURL+path, c.header(), in, out); err != nil {
		return fmt.Errorf("homeassistant %s %s: %w", method, path, err)
	}
	return nil
}

// SplitService splits "light.turn_on" into its domain and service.
func SplitService(s string) (domain, service string, ok bool) {
	domain, service, ok = strings.Cut(s, ".")
	if !ok || domain == "" || service == "" {
		return "", "", false
	}
	return domain, service, true
}
