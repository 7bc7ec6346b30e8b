package httpkit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
	if NewClient(WithTimeout(0)).Timeout != 0 {
		t.Error("WithTimeout(0) did not disable timeout")
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := NewClient(WithUserAgent("probe/1")).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	DrainAndClose(resp.Body, 1024)

	if got != "probe/1" {
		t.Errorf("User-Agent = %q, want probe/1", got)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, "nope")
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"echo":`+string(body)+`}`)
	}))
	defer srv.Close()

	client := NewClient()
	header := http.Header{"Authorization": {"Bearer tok"}}

	var out struct {
		Echo map[string]string `json:"echo"`
	}
	err := DoJSON(context.Background(), client, http.MethodPost, srv.URL, header, map[string]string{"a": "b"}, &out)
	if err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.Echo["a"] != "b" {
		t.Errorf("echo = %v", out.Echo)
	}

	err = DoJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized || se.Body != "nope" {
		t.Errorf("DoJSON without auth = %v, want StatusError 401", err)
	}
}

func TestProbe(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	probe := Probe(NewClient(), srv.URL, nil)
	if err := probe(context.Background()); err == nil {
		t.Error("probe of unhealthy server returned nil")
	}
	healthy.Store(true)
	if err := probe(context.Background()); err != nil {
		t.Errorf("probe of healthy server = %v", err)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("abcdef")), 3); got != "abc" {
		t.Errorf("ReadErrorBody = %q, want abc", got)
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q", got)
	}
}

type countingRoundTripper struct {
	calls atomic.Int32
	fail  int32
	err   error
}

func (c *countingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.calls.Add(1) <= c.fail {
		return nil, c.err
	}
	return &http.Response{StatusCode: 200, Body: http.NoBody, Request: req}, nil
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		fail      int32
		err       error
		wantCalls int32
		wantErr   bool
	}{
		{"success", 0, nil, 1, false},
		{"refused then ok", 2, syscall.ECONNREFUSED, 3, false},
		{"exhausted", 10, syscall.EHOSTUNREACH, 4, true},
		{"not retryable", 10, errors.New("tls: bad certificate"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &countingRoundTripper{fail: tt.fail, err: tt.err}
			rt := &retryTransport{base: base, count: 3, delay: time.Millisecond, logger: slogDiscard()}

			req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if resp != nil {
				resp.Body.Close()
			}
			if got := base.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
