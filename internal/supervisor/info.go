package supervisor

import (
	"time"

	"github.com/nugget/thane-cortex/internal/modes"
)

// ModeInfo is the status of the running mode.
type ModeInfo struct {
	Name          string             `json:"name"`
	DisplayName   string             `json:"display_name"`
	Description   string             `json:"description"`
	Hertz         float64            `json:"hertz"`
	Previous      string             `json:"previous,omitempty"`
	TimeInMode    time.Duration      `json:"time_in_mode"`
	Timeout       time.Duration      `json:"timeout,omitzero"`
	Initialized   bool               `json:"initialized"`
	Transitioning bool               `json:"transitioning"`
	BackupMode    string             `json:"backup_mode,omitempty"`
	Transitions   []string           `json:"available_transitions"`
	History       []modes.Transition `json:"history,omitempty"`
}

// ModeSummary describes one registered mode.
type ModeSummary struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	IsCurrent   bool   `json:"is_current"`
}

// ModeInfo reports the current mode and the modes reachable from it.
func (s *Supervisor) ModeInfo() ModeInfo {
	current := s.tracker.Current()
	info := ModeInfo{
		Name:          current,
		Previous:      s.tracker.Previous(),
		TimeInMode:    s.tracker.TimeInMode(),
		Transitioning: s.transitioning.Load(),
		History:       s.tracker.History(),
	}
	if def, ok := s.sys.Modes[current]; ok {
		info.DisplayName = def.DisplayName
		info.Description = def.Description
		info.Hertz = def.Hertz
		info.Timeout = def.Timeout
	}

	s.mu.RLock()
	info.Initialized = s.initialized
	s.mu.RUnlock()
	if mode, _, ok := s.snapshot(); ok {
		info.BackupMode = mode
	}

	info.Transitions = []string{}
	for _, name := range s.sys.Names() {
		if name != current {
			info.Transitions = append(info.Transitions, name)
		}
	}
	return info
}

// AvailableModes lists every registered mode. Exactly one entry, the
// tracker's current mode, has IsCurrent set.
func (s *Supervisor) AvailableModes() map[string]ModeSummary {
	current := s.tracker.Current()
	out := make(map[string]ModeSummary, len(s.sys.Modes))
	for name, def := range s.sys.Modes {
		out[name] = ModeSummary{
			DisplayName: def.DisplayName,
			Description: def.Description,
			IsCurrent:   name == current,
		}
	}
	return out
}
