package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/pkg/provider/vad"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "llamacpp", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamafile", "openai-chat"},
	"stt": {"whisper"},
	"tts": {"openai", "kokoro", "coqui"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRelistenDelay   = 500 * time.Millisecond
	DefaultUpstreamTimeout = 60 * time.Second
	DefaultHistoryTurns    = 10
	DefaultMaxTokens       = 512
	DefaultTemperature     = 0.7
	DefaultLanguage        = "en"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	v := &cfg.Voice
	vd := vad.DefaultConfig()
	if v.SpeechThreshold == 0 {
		v.SpeechThreshold = vd.SpeechThreshold
	}
	if v.PeakRatio == 0 {
		v.PeakRatio = vd.PeakRatio
	}
	if v.SilenceDuration == 0 {
		v.SilenceDuration = vd.Silence
	}
	if v.GracePeriod == 0 {
		v.GracePeriod = vd.GracePeriod
	}
	if v.MaxDuration == 0 {
		v.MaxDuration = vd.MaxDuration
	}
	if v.MinSpeech == 0 {
		v.MinSpeech = vd.MinSpeech
	}
	if v.RelistenDelay == 0 {
		v.RelistenDelay = DefaultRelistenDelay
	}
	for _, d := range []*time.Duration{&v.STTTimeout, &v.LLMTimeout, &v.TTSTimeout, &v.PlaybackTimeout} {
		if *d == 0 {
			*d = DefaultUpstreamTimeout
		}
	}
	if v.Language == "" {
		v.Language = DefaultLanguage
	}
	if v.Profile.SpeedFactor == 0 {
		v.Profile.SpeedFactor = 1.0
	}

	p := &cfg.Prompt
	if p.HistoryTurns == 0 {
		p.HistoryTurns = DefaultHistoryTurns
	}
	if p.MaxInputChars == 0 {
		p.MaxInputChars = prompt.DefaultMaxInputChars
	}
	if p.MaxOutputChars == 0 {
		p.MaxOutputChars = order.DefaultMaxOutputChars
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}

	if cfg.Cart.Backend == "" {
		cfg.Cart.Backend = CartMemory
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "cafevox"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"llm", cfg.Providers.LLM},
		{"stt", cfg.Providers.STT},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			slog.Warn("provider not configured; voice sessions will fail until it is", "kind", p.kind)
			continue
		}
		validateProviderName(p.kind, p.entry.Name)
		for i, fb := range p.entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", p.kind, i))
				continue
			}
			validateProviderName(p.kind, fb.Name)
		}
	}

	// Voice
	v := cfg.Voice
	if err := v.VAD().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"relisten_delay":   v.RelistenDelay,
		"stt_timeout":      v.STTTimeout,
		"llm_timeout":      v.LLMTimeout,
		"tts_timeout":      v.TTSTimeout,
		"playback_timeout": v.PlaybackTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("voice.%s %s must not be negative", name, d))
		}
	}
	if sf := v.Profile.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("voice.profile.speed %.2f is out of range [0.5, 2.0]", sf))
	}

	// Prompt
	p := cfg.Prompt
	if p.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("prompt.history_turns %d must not be negative", p.HistoryTurns))
	}
	if p.MaxInputChars < 0 || p.MaxOutputChars < 0 || p.MaxTokens < 0 {
		errs = append(errs, errors.New("prompt limits must not be negative"))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("prompt.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	seen := make(map[string]int, len(p.Menu))
	for i, item := range p.Menu {
		prefix := fmt.Sprintf("prompt.menu[%d]", i)
		if item.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[item.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of prompt.menu[%d]", prefix, item.Name, prev))
		}
		seen[item.Name] = i
		if item.Price < 0 {
			errs = append(errs, fmt.Errorf("%s.price must not be negative", prefix))
		}
	}

	// Cart
	c := cfg.Cart
	if c.Backend != "" && !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cart.backend %q is invalid; valid values: memory, postgres, redis", c.Backend))
	}
	if c.Backend == CartPostgres && c.DSN == "" {
		errs = append(errs, errors.New("cart.dsn is required when backend is postgres"))
	}
	if c.Backend == CartRedis && c.RedisURL == "" {
		errs = append(errs, errors.New("cart.redis_url is required when backend is redis"))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("cart.ttl %s must not be negative", c.TTL))
	}

	if r := cfg.Observability.SampleRatio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
