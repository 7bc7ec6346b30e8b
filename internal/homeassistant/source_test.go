package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer speaks enough of the Home Assistant websocket protocol to
// authenticate, accept a subscription and push events.
func wsServer(t *testing.T, token string, events chan map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != token {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"id": sub["id"], "type": "result", "success": true})

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				conn.WriteJSON(map[string]any{"id": sub["id"], "type": "event", "event": ev})
			case <-gone:
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func stateChanged(entity, from, to string) map[string]any {
	data := map[string]any{
		"entity_id": entity,
		"new_state": map[string]any{"entity_id": entity, "state": to, "attributes": map[string]any{"friendly_name": "Front Door"}},
	}
	if from != "" {
		data["old_state"] = map[string]any{"entity_id": entity, "state": from}
	}
	return map[string]any{"event_type": "state_changed", "data": data, "time_fired": time.Now().Format(time.RFC3339Nano)}
}

func TestStateSource_ReportsChanges(t *testing.T) {
	events := make(chan map[string]any, 4)
	srv := wsServer(t, "secret", events)
	src := NewStateSource(NewClient(srv.URL, "secret", nil), StateSourceConfig{
		Name:     "house",
		Entities: []string{"binary_sensor.*door*"},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Open(ctx); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- src.Listen(ctx) }()

	events <- stateChanged("light.kitchen", "off", "on")
	events <- stateChanged("binary_sensor.front_door", "off", "off")
	events <- stateChanged("binary_sensor.front_door", "off", "on")

	deadline := time.Now().Add(5 * time.Second)
	var got string
	for time.Now().Before(deadline) {
		if r, fresh := src.Latest(); fresh {
			got = r.Text
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	want := "Front Door (binary_sensor.front_door) changed from off to on"
	if got != want {
		t.Errorf("reading = %q, want %q", got, want)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Listen() = %v, want context.Canceled", err)
	}
}

func TestStateSource_ServerClose(t *testing.T) {
	events := make(chan map[string]any)
	srv := wsServer(t, "secret", events)
	src := NewStateSource(NewClient(srv.URL, "secret", nil), StateSourceConfig{}, nil)

	errc := make(chan error, 1)
	go func() { errc <- src.Listen(context.Background()) }()
	close(events)

	select {
	case err := <-errc:
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("Listen() = %v, want connection error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after server close")
	}
}

func TestStateSource_CloseDropsOpenedStream(t *testing.T) {
	srv := wsServer(t, "secret", make(chan map[string]any))
	src := NewStateSource(NewClient(srv.URL, "secret", nil), StateSourceConfig{}, nil)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	src.mu.Lock()
	held := src.stream
	src.mu.Unlock()
	if held != nil {
		t.Error("stream still held after Close")
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestDialEvents_BadToken(t *testing.T) {
	srv := wsServer(t, "secret", make(chan map[string]any))
	_, err := NewClient(srv.URL, "wrong", nil).DialEvents(context.Background(), "state_changed")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("DialEvents() = %v, want ErrAuthFailed", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://ha.local:8123":  "ws://ha.local:8123/api/websocket",
		"https://ha.example.io": "wss://ha.example.io/api/websocket",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestStateChangedData_Decode(t *testing.T) {
	raw, _ := json.Marshal(stateChanged("person.alex", "", "home")["data"])
	var data StateChangedData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	if data.OldState != nil || data.NewState.State != "home" || !strings.HasPrefix(data.EntityID, "person.") {
		t.Errorf("decoded = %+v", data)
	}
}
