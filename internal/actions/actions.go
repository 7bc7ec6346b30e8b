// Package actions executes the actions a decision engine proposes.
//
// Actions are handed to an [Orchestrator] as promises: Promise queues
// them without blocking, workers started by Start run each one through
// the connector bound to its type, and FlushPromises collects the
// results on a later tick.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrUnknownAction is recorded on a result whose action type has no
// bound connector.
var ErrUnknownAction = errors.New("unknown action")

// Action is one proposed action. Type names the action binding (for
// example "speak" or "lights"); Value is its primary argument.
type Action struct {
	Type  string         `json:"type"`
	Value string         `json:"value,omitempty"`
	Args  map[string]any `json:"args,omitempty"`
}

func (a Action) String() string {
	if a.Value == "" {
		return a.Type
	}
	return a.Type + "(" + a.Value + ")"
}

// Connector carries out actions against one backend.
type Connector interface {
	Name() string
	Connect(ctx context.Context, a Action) error
}

// ConnectorFunc adapts a function into a [Connector].
type ConnectorFunc struct {
	ID string
	Fn func(ctx context.Context, a Action) error
}

// Name returns the connector identifier.
func (c ConnectorFunc) Name() string { return c.ID }

// Connect calls Fn.
func (c ConnectorFunc) Connect(ctx context.Context, a Action) error { return c.Fn(ctx, a) }

// Binding attaches an action name the decision engine may emit to the
// connector that executes it.
type Binding struct {
	Name        string
	Description string
	Connector   Connector
}

// Result is the outcome of one promised action.
type Result struct {
	ID       string        `json:"id"`
	Action   Action        `json:"action"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Finished time.Time     `json:"finished"`
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Summary renders the result as a single prompt line.
func (r Result) Summary() string {
	if r.Err != nil {
		return fmt.Sprintf("%s failed: %v", r.Action, r.Err)
	}
	return fmt.Sprintf("%s done", r.Action)
}

// LogConnector records actions in the log without side effects. It is
// the default connector for dry runs and modes under development.
type LogConnector struct {
	Logger *slog.Logger
}

// Name returns "log".
func (c *LogConnector) Name() string { return "log" }

// Connect logs the action.
func (c *LogConnector) Connect(_ context.Context, a Action) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("action", "type", a.Type, "value", a.Value, "args", formatArgs(a.Args))
	return nil
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
