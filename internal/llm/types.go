// Package llm turns fused prompts into actions by asking a chat model
// served by Ollama. Each action binding of the active mode is offered
// to the model as a tool; the tool calls it returns become actions.
package llm

import (
	"context"
	"time"
)

// Message is a chat message.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is a completed chat turn with Go-typed metadata. Wire
// formats are converted at the provider boundary.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// Client is a chat model provider.
type Client interface {
	// Chat sends a non-streaming chat request.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks whether the provider is reachable.
	Ping(ctx context.Context) error
}
