package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/retry"
)

// Output is a decision: the actions to take and the raw model reply.
type Output struct {
	Actions []actions.Action
	Raw     string
}

// DecisionEngine turns a prompt into a decision. A nil Output with a
// nil error means the engine chose to do nothing.
type DecisionEngine interface {
	Ask(ctx context.Context, prompt string) (*Output, error)
}

const defaultSystemPrompt = `You are the decision core of a home agent.
You receive the current inputs and the results of your previous actions.
Choose zero or more of the available tools. Do not explain yourself.`

// CortexConfig configures a [Cortex].
type CortexConfig struct {
	Client       Client
	Model        string
	SystemPrompt string
	Bindings     []actions.Binding
	Retry        *retry.Manager // optional
	Logger       *slog.Logger
}

// Cortex is the [DecisionEngine] for one mode.
type Cortex struct {
	client       Client
	model        string
	systemPrompt string
	tools        []map[string]any
	retry        *retry.Manager
	logger       *slog.Logger
}

// NewCortex creates a decision engine offering each binding as a tool.
func NewCortex(cfg CortexConfig) *Cortex {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	return &Cortex{
		client:       cfg.Client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		tools:        ToolSchemas(cfg.Bindings),
		retry:        cfg.Retry,
		logger:       cfg.Logger.With("component", "cortex", "model", cfg.Model),
	}
}

// ToolSchemas renders action bindings as Ollama function tools. Every
// tool takes a single string "value" argument.
func ToolSchemas(bindings []actions.Binding) []map[string]any {
	tools := make([]map[string]any, 0, len(bindings))
	for _, b := range bindings {
		desc := b.Description
		if desc == "" {
			desc = "Perform the " + b.Name + " action."
		}
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        b.Name,
				"description": desc,
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value": map[string]any{
							"type":        "string",
							"description": "Argument for the action.",
						},
					},
				},
			},
		})
	}
	return tools
}

// Ask sends prompt to the model and converts its tool calls into
// actions. A reply without tool calls yields no output.
func (c *Cortex) Ask(ctx context.Context, prompt string) (*Output, error) {
	messages := []Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "user", Content: prompt},
	}
	c.logger.Log(ctx, config.LevelTrace, "prompt", "text", prompt)

	chat := func(ctx context.Context) (*ChatResponse, error) {
		return c.client.Chat(ctx, c.model, messages, c.tools)
	}

	var (
		resp *ChatResponse
		err  error
	)
	if c.retry != nil {
		resp, err = retry.Value(ctx, c.retry, chat)
	} else {
		resp, err = chat(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("ask %s: %w", c.model, err)
	}

	c.logger.Log(ctx, config.LevelTrace, "reply",
		"content", resp.Message.Content,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Debug("decision",
		"tool_calls", len(resp.Message.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"eval", resp.EvalDuration.String(),
	)

	if len(resp.Message.ToolCalls) == 0 {
		return nil, nil
	}

	out := &Output{Raw: resp.Message.Content}
	for _, tc := range resp.Message.ToolCalls {
		out.Actions = append(out.Actions, toAction(tc))
	}
	return out, nil
}

func toAction(tc ToolCall) actions.Action {
	a := actions.Action{Type: tc.Function.Name}
	for k, v := range tc.Function.Arguments {
		if k == "value" {
			if s, ok := v.(string); ok {
				a.Value = s
			} else {
				a.Value = fmt.Sprint(v)
			}
			continue
		}
		if a.Args == nil {
			a.Args = make(map[string]any)
		}
		a.Args[k] = v
	}
	return a
}
