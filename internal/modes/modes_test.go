package modes

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nugget/thane-cortex/internal/config"
)

func testSystemConfig() config.ModeSystemConfig {
	return config.ModeSystemConfig{
		Name:                   "home",
		DefaultMode:            "idle",
		TransitionAnnouncement: true,
		Modes: map[string]config.ModeConfig{
			"idle":   {DisplayName: "Idle", Hertz: 1, EntryMessage: "Resting."},
			"patrol": {DisplayName: "Patrol", Hertz: 2, TimeoutSeconds: 60},
			"guard":  {DisplayName: "Guard", Hertz: 0.5},
		},
	}
}

func TestFromConfig(t *testing.T) {
	c := testSystemConfig()
	c.TransitionRules = []config.TransitionRule{
		{From: "idle", To: "patrol", Type: config.RuleInputTriggered, Keywords: []string{" Patrol "}},
	}

	sys, err := FromConfig(c, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := sys.Names(); strings.Join(got, ",") != "guard,idle,patrol" {
		t.Errorf("Names() = %v", got)
	}
	patrol := sys.Modes["patrol"]
	if patrol.Timeout != time.Minute || patrol.DisplayName != "Patrol" {
		t.Errorf("patrol = %+v", patrol)
	}
	if sys.Rules[0].Keywords[0] != "patrol" {
		t.Errorf("keywords not normalized: %v", sys.Rules[0].Keywords)
	}
}

func TestFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.ModeSystemConfig)
		wantErr string
	}{
		{"unknown default", func(c *config.ModeSystemConfig) { c.DefaultMode = "nope" }, `default mode "nope"`},
		{"zero hertz", func(c *config.ModeSystemConfig) {
			c.Modes["idle"] = config.ModeConfig{}
		}, "hertz must be > 0"},
		{"bad condition", func(c *config.ModeSystemConfig) {
			c.TransitionRules = []config.TransitionRule{{From: "idle", To: "guard", Type: config.RuleContextAware, Condition: "hour >"}}
		}, "compile condition"},
		{"condition not bool", func(c *config.ModeSystemConfig) {
			c.TransitionRules = []config.TransitionRule{{From: "idle", To: "guard", Type: config.RuleContextAware, Condition: "hour + 1"}}
		}, "compile condition"},
		{"no keywords", func(c *config.ModeSystemConfig) {
			c.TransitionRules = []config.TransitionRule{{From: "idle", To: "guard", Type: config.RuleInputTriggered}}
		}, "no keywords"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testSystemConfig()
			tt.mutate(&c)
			_, err := FromConfig(c, nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("FromConfig() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefinition_LoadComponents(t *testing.T) {
	var loaded []string
	loader := LoaderFunc(func(def *Definition) (*Components, error) {
		loaded = append(loaded, def.Name)
		if def.Name == "guard" {
			return nil, errors.New("camera offline")
		}
		return &Components{}, nil
	})
	sys, err := FromConfig(testSystemConfig(), loader)
	if err != nil {
		t.Fatal(err)
	}

	comps, err := sys.Modes["patrol"].LoadComponents(sys)
	if err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	rc := sys.Modes["patrol"].ToRuntimeConfig(sys, comps)
	if rc.Mode != "patrol" || rc.Interval() != 500*time.Millisecond {
		t.Errorf("runtime config = %+v, interval %v", rc, rc.Interval())
	}

	_, err = sys.Modes["guard"].LoadComponents(sys)
	if err == nil || !strings.Contains(err.Error(), "mode guard: camera offline") {
		t.Errorf("LoadComponents(guard) = %v", err)
	}

	sys.Loader = nil
	if _, err := sys.Modes["idle"].LoadComponents(sys); !errors.Is(err, ErrNoLoader) {
		t.Errorf("LoadComponents without loader = %v, want ErrNoLoader", err)
	}
}

func TestInterval_Default(t *testing.T) {
	if got := (&RuntimeConfig{}).Interval(); got != time.Second {
		t.Errorf("Interval() with zero hertz = %v, want 1s", got)
	}
}
