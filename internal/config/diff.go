package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, providers, cart backend) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PromptChanged is true if the menu, instructions or any prompt limit
	// changed. New turns pick up the rebuilt prompt.
	PromptChanged bool

	// VoiceProfileChanged is true if the TTS voice changed.
	VoiceProfileChanged bool

	// VoiceTimingChanged is true if any detection threshold, timeout or
	// delay changed. Applies to sessions opened afterwards.
	VoiceTimingChanged bool

	// RestartRequired lists top-level settings that changed but are only
	// read at startup.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PromptChanged || d.VoiceProfileChanged || d.VoiceTimingChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !promptEqual(old.Prompt, new.Prompt) {
		d.PromptChanged = true
	}

	if old.Voice.Profile != new.Voice.Profile {
		d.VoiceProfileChanged = true
	}

	ov, nv := old.Voice, new.Voice
	ov.Profile, nv.Profile = tts.VoiceProfile{}, tts.VoiceProfile{}
	if ov != nv {
		d.VoiceTimingChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Cart != new.Cart {
		d.RestartRequired = append(d.RestartRequired, "cart")
	}

	return d
}

func promptEqual(a, b PromptConfig) bool {
	if !slices.Equal(a.Menu, b.Menu) {
		return false
	}
	a.Menu, b.Menu = nil, nil
	return reflect.DeepEqual(a, b)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if !reflect.DeepEqual(a.Options, b.Options) {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
