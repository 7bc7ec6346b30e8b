// Package fuser merges a mode's sensor state and the outcome of earlier
// actions into a single decision prompt.
package fuser

import (
	"strings"

	"github.com/nugget/thane-cortex/internal/actions"
	"github.com/nugget/thane-cortex/internal/inputs"
)

// Fuser builds prompts for one mode.
type Fuser struct {
	mode        string
	description string
	catalog     []actions.Binding
}

// New creates a fuser for the named mode. catalog lists the actions the
// decision engine may choose from.
func New(mode, description string, catalog []actions.Binding) *Fuser {
	return &Fuser{mode: mode, description: description, catalog: catalog}
}

// Fuse consumes each source's unread reading and renders a prompt from
// them and the finished action results. It reports false when there is
// nothing new to decide on.
func (f *Fuser) Fuse(sources []inputs.Source, finished []actions.Result) (string, bool) {
	var readings []inputs.Reading
	for _, s := range sources {
		if r, fresh := s.Latest(); fresh && strings.TrimSpace(r.Text) != "" {
			readings = append(readings, r)
		}
	}
	if len(readings) == 0 && len(finished) == 0 {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString("Mode: ")
	sb.WriteString(f.mode)
	if f.description != "" {
		sb.WriteString(" (")
		sb.WriteString(f.description)
		sb.WriteString(")")
	}
	sb.WriteString("\n")

	if len(readings) > 0 {
		sb.WriteString("\nINPUTS\n")
		for _, r := range readings {
			sb.WriteString("// ")
			sb.WriteString(r.Source)
			sb.WriteString(" @ ")
			sb.WriteString(r.Time.Format("15:04:05"))
			sb.WriteString("\n")
			sb.WriteString(r.Text)
			sb.WriteString("\n")
		}
	}

	if len(finished) > 0 {
		sb.WriteString("\nRESULTS OF PREVIOUS ACTIONS\n")
		for _, res := range finished {
			sb.WriteString("- ")
			sb.WriteString(res.Summary())
			sb.WriteString("\n")
		}
	}

	if len(f.catalog) > 0 {
		sb.WriteString("\nAVAILABLE ACTIONS\n")
		for _, b := range f.catalog {
			sb.WriteString("- ")
			sb.WriteString(b.Name)
			if b.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(b.Description)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nDecide what to do next. Respond only with actions.")
	return sb.String(), true
}
