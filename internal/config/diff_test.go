package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/cafevox/internal/config"
	"github.com/MrWong99/cafevox/internal/prompt"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"k": "v"}},
		},
		Prompt: config.PromptConfig{
			Menu: []prompt.MenuItem{{Name: "Latte", Price: 4}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("Changed() = true for identical configs: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want empty", d.RestartRequired)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.PromptChanged || d.VoiceProfileChanged || d.VoiceTimingChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_Prompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"menu item added", func(c *config.Config) {
			c.Prompt.Menu = append(c.Prompt.Menu, prompt.MenuItem{Name: "Mocha"})
		}},
		{"price changed", func(c *config.Config) { c.Prompt.Menu[0].Price = 4.5 }},
		{"instructions", func(c *config.Config) { c.Prompt.Instructions = "Closed on Mondays." }},
		{"temperature", func(c *config.Config) { c.Prompt.Temperature = 0.2 }},
		{"history", func(c *config.Config) { c.Prompt.HistoryTurns = 4 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			if d := config.Diff(old, new); !d.PromptChanged {
				t.Errorf("PromptChanged = false: %+v", d)
			}
		})
	}
}

func TestDiff_Voice(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Voice.Profile.ID = "am_adam"
	d := config.Diff(old, new)
	if !d.VoiceProfileChanged {
		t.Error("VoiceProfileChanged = false after voice id change")
	}
	if d.VoiceTimingChanged {
		t.Error("VoiceTimingChanged = true after a profile-only change")
	}

	new = baseConfig()
	new.Voice.SilenceDuration = 3 * time.Second
	d = config.Diff(old, new)
	if !d.VoiceTimingChanged || d.VoiceProfileChanged {
		t.Errorf("diff = %+v, want timing change only", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Providers.LLM.Options = map[string]any{"k": "other"}
	new.Cart.Backend = config.CartRedis

	d := config.Diff(old, new)
	want := []string{"server", "providers", "cart"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Changed() {
		t.Errorf("Changed() = true for restart-only changes: %+v", d)
	}
}
