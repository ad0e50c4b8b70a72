package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/mira/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := load(t, minimalProviders)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	d := config.Diff(baseConfig(t), baseConfig(t))
	if !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	old, new := baseConfig(t), baseConfig(t)
	new.Server.LogLevel = config.LogWarn

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("diff = %+v, want log level warn", d)
	}
	if d.KeywordsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_Keywords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"stop list edited", func(c *config.Config) { c.Keywords.Stop = []string{"พอแล้ว"} }},
		{"wake list disabled", func(c *config.Config) { c.Keywords.Wake = []string{} }},
		{"distance changed", func(c *config.Config) { c.Listener.KeywordMaxDistance = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := baseConfig(t), baseConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.KeywordsChanged {
				t.Errorf("KeywordsChanged = false")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	old, new := baseConfig(t), baseConfig(t)
	new.Audio.InputDevice = "Other Mic"
	new.Session.IdleTimeout = 2 * time.Minute
	v := 3
	new.Listener.VADMode = &v

	d := config.Diff(old, new)
	for _, want := range []string{"audio", "session", "listener"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if slices.Contains(d.RestartRequired, "playback") {
		t.Errorf("playback did not change: %v", d.RestartRequired)
	}
}
