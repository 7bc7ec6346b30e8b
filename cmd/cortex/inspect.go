package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nugget/thane-cortex/internal/components"
	"github.com/nugget/thane-cortex/internal/config"
	"github.com/nugget/thane-cortex/internal/modes"
)

// validation is the JSON form of a validate run.
type validation struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Modes    int      `json:"modes"`
	Rules    int      `json:"rules"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// runValidate checks a configuration: YAML decoding, every structural
// rule, component type names, and compilation of the mode registry. It
// reports every problem at once and fails if there are any. Unset
// environment variables are reported as warnings.
func runValidate(w io.Writer, explicit, outputFmt string) error {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return err
	}
	res := validation{Path: cfgPath}

	if data, err := os.ReadFile(cfgPath); err == nil {
		for _, name := range config.UnsetEnv(data) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("environment variable %s is not set", name))
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		res.Problems = append(res.Problems, err.Error())
	} else {
		res.Modes = len(cfg.Modes.Modes)
		res.Rules = len(cfg.Modes.TransitionRules)
		if err := errors.Join(cfg.Validate(), components.Validate(cfg.Modes)); err != nil {
			res.Problems = append(res.Problems, splitJoined(err)...)
		} else if _, err := modes.FromConfig(cfg.Modes, nil); err != nil {
			res.Problems = append(res.Problems, err.Error())
		}
	}
	res.Valid = len(res.Problems) == 0

	if outputFmt == "json" {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		if res.Valid {
			fmt.Fprintf(w, "%s: ok (%d modes, %d transition rules)\n", res.Path, res.Modes, res.Rules)
		} else {
			fmt.Fprintf(w, "%s: %d problem(s)\n", res.Path, len(res.Problems))
			for _, p := range res.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
	if !res.Valid {
		return fmt.Errorf("config %s is invalid", res.Path)
	}
	return nil
}

// splitJoined flattens an errors.Join result into its messages.
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// modeListing is the JSON form of the modes command.
type modeListing struct {
	Default string                  `json:"default_mode"`
	Modes   []modeEntry             `json:"modes"`
	Rules   []config.TransitionRule `json:"transition_rules,omitempty"`
}

type modeEntry struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name,omitempty"`
	Description string  `json:"description,omitempty"`
	Hertz       float64 `json:"hertz"`
	Inputs      int     `json:"inputs"`
	Actions     int     `json:"actions"`
}

// runModes lists the registry and its transition rules.
func runModes(w io.Writer, explicit, outputFmt string) error {
	cfg, _, err := loadConfig(explicit)
	if err != nil {
		return err
	}
	sys, err := modes.FromConfig(cfg.Modes, nil)
	if err != nil {
		return err
	}

	listing := modeListing{Default: sys.DefaultMode, Rules: cfg.Modes.TransitionRules}
	for _, name := range sys.Names() {
		def := sys.Modes[name]
		listing.Modes = append(listing.Modes, modeEntry{
			Name:        name,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Hertz:       def.Hertz,
			Inputs:      len(def.Inputs),
			Actions:     len(def.Actions),
		})
	}
	if outputFmt == "json" {
		return writeJSON(w, listing)
	}

	for _, m := range listing.Modes {
		marker := " "
		if m.Name == listing.Default {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-16s %5.2f Hz  %d inputs, %d actions  %s\n",
			marker, m.Name, m.Hertz, m.Inputs, m.Actions, m.Description)
	}
	if len(listing.Rules) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Transition rules:")
	rules := append([]config.TransitionRule(nil), listing.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	for _, r := range rules {
		fmt.Fprintf(w, "  %s -> %s  [%s, priority %d]%s\n", r.From, r.To, r.Type, r.Priority, ruleDetail(r))
	}
	return nil
}

func ruleDetail(r config.TransitionRule) string {
	switch {
	case len(r.Keywords) > 0:
		return "  keywords: " + strings.Join(r.Keywords, ", ")
	case r.Condition != "":
		return "  when: " + r.Condition
	}
	return ""
}
