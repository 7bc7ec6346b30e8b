package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/thane-cortex/internal/httpkit"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string // First tool name if wantCount > 0
	}{
		{
			name:      "empty content",
			content:   "",
			wantCount: 0,
		},
		{
			name:      "whitespace only",
			content:   "   \n\t  ",
			wantCount: 0,
		},
		{
			name:      "plain text no JSON",
			content:   "I think the kitchen is empty.",
			wantCount: 0,
		},
		{
			name:      "single tool call object",
			content:   `{"name": "speak", "arguments": {"value": "Good morning"}}`,
			wantCount: 1,
			wantName:  "speak",
		},
		{
			name:      "single tool call with whitespace",
			content:   `  {"name": "speak", "arguments": {"value": "Good morning"}}  `,
			wantCount: 1,
			wantName:  "speak",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "speak", "arguments": {"value": "Good morning"}}, {"name": "stop", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "speak",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "set_lights", "arguments": {"value": "on", "room": "kitchen"}}</tool_call>`,
			wantCount: 1,
			wantName:  "set_lights",
		},
		{
			name:      "tagged tool call without closing tag",
			content:   `<tool_call>{"name": "speak", "arguments": {"value": "Hello"}}`,
			wantCount: 1,
			wantName:  "speak",
		},
		{
			name:      "tagged with preamble",
			content:   `Greeting the visitor. <tool_call>{"name": "speak", "arguments": {"value": "Good morning"}}</tool_call>`,
			wantCount: 1,
			wantName:  "speak",
		},
		{
			name:      "empty arguments",
			content:   `{"name": "stop", "arguments": {}}`,
			wantCount: 1,
			wantName:  "stop",
		},
		{
			name:      "nested arguments",
			content:   `{"name": "set_lights", "arguments": {"value": "on", "room": "kitchen", "data": {"brightness": 255}}}`,
			wantCount: 1,
			wantName:  "set_lights",
		},
		{
			name:      "malformed JSON",
			content:   `{"name": "speak", "arguments": {`,
			wantCount: 0,
		},
		{
			name:      "JSON without name field",
			content:   `{"foo": "bar", "arguments": {}}`,
			wantCount: 0,
		},
		{
			name:      "JSON with empty name",
			content:   `{"name": "", "arguments": {}}`,
			wantCount: 0,
		},
		// Validation tests
		{
			name:       "valid tool with validation",
			content:    `{"name": "speak", "arguments": {"value": "Good morning"}}`,
			validTools: []string{"speak", "set_lights"},
			wantCount:  1,
			wantName:   "speak",
		},
		{
			name:       "invalid tool rejected by validation",
			content:    `{"name": "hack_the_planet", "arguments": {}}`,
			validTools: []string{"speak", "set_lights"},
			wantCount:  0,
		},
		{
			name:       "mixed valid/invalid in array",
			content:    `[{"name": "speak", "arguments": {}}, {"name": "invalid_tool", "arguments": {}}]`,
			validTools: []string{"speak", "set_lights"},
			wantCount:  1,
			wantName:   "speak",
		},
		{
			name:       "no validation (nil validTools)",
			content:    `{"name": "any_tool_name", "arguments": {}}`,
			validTools: nil,
			wantCount:  1,
			wantName:   "any_tool_name",
		},
		{
			name:       "no validation (empty validTools)",
			content:    `{"name": "any_tool_name", "arguments": {}}`,
			validTools: []string{},
			wantCount:  1,
			wantName:   "any_tool_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)

			if len(got) != tt.wantCount {
				t.Errorf("parseTextToolCalls() returned %d tools, want %d", len(got), tt.wantCount)
				return
			}

			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("parseTextToolCalls() first tool name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestExtractToolNames(t *testing.T) {
	tests := []struct {
		name  string
		tools []map[string]any
		want  []string
	}{
		{"nil tools", nil, nil},
		{"single tool", []map[string]any{
			{"function": map[string]any{"name": "speak"}},
		}, []string{"speak"}},
		{"mixed valid and malformed", []map[string]any{
			{"function": map[string]any{"name": "speak"}},
			{"broken": "entry"},
			{"function": map[string]any{"name": "lights"}},
		}, []string{"speak", "lights"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractToolNames(tt.tools)
			if len(got) != len(tt.want) {
				t.Fatalf("extractToolNames() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("extractToolNames()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestOllamaWireResponse_BasicChat(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"function": {"name": "speak", "arguments": {"value": "Hello"}}}]
		},
		"done": true,
		"total_duration": 1234567890,
		"load_duration": 100000000,
		"prompt_eval_count": 42,
		"eval_count": 15,
		"eval_duration": 600000000
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if resp.CreatedAt.Year() != 2026 || resp.CreatedAt.Month() != time.February {
		t.Errorf("CreatedAt = %v, expected 2026-02", resp.CreatedAt)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.LoadDuration != 100*time.Millisecond {
		t.Errorf("LoadDuration = %v, want 100ms", resp.LoadDuration)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "speak" {
		t.Errorf("ToolCalls = %+v", resp.Message.ToolCalls)
	}
}

func TestOllamaWireResponse_MissingTimestamp(t *testing.T) {
	wire := ollamaWireResponse{Model: "qwen3:4b", Done: true}
	if resp := wire.toChatResponse(); !resp.CreatedAt.IsZero() {
		t.Errorf("CreatedAt = %v, want zero", resp.CreatedAt)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		// Tool call written as text, which Chat recovers.
		io.WriteString(w, `{"model":"qwen3:4b","message":{"role":"assistant","content":"<tool_call>{\"name\":\"speak\",\"arguments\":{\"value\":\"hi\"}}</tool_call>"},"done":true}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL + "/")
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "speak"}}}
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{{Role: "user", Content: "hello"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotReq.Model != "qwen3:4b" || gotReq.Stream || len(gotReq.Tools) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Arguments["value"] != "hi" {
		t.Errorf("ToolCalls = %+v", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Errorf("Content = %q, want cleared", resp.Message.Content)
	}
}

func TestOllamaClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL).Chat(context.Background(), "nope", nil, nil)
	var se *httpkit.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("Chat() = %v, want 404 StatusError", err)
	}
}

func TestOllamaClient_PingAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"qwen3:4b"},{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[1] != "llama3:8b" {
		t.Errorf("ListModels() = %v", names)
	}
}
