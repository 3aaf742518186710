// Package config provides the configuration schema, loader, and provider registry
// for the cafevox ordering server.
package config

import (
	"time"

	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
	"github.com/MrWong99/cafevox/pkg/provider/vad"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CartBackend selects the cart persistence implementation.
type CartBackend string

const (
	CartMemory   CartBackend = "memory"
	CartPostgres CartBackend = "postgres"
	CartRedis    CartBackend = "redis"
)

// IsValid reports whether b is a recognised cart backend.
func (b CartBackend) IsValid() bool {
	switch b {
	case CartMemory, CartPostgres, CartRedis:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Voice         VoiceConfig         `yaml:"voice"`
	Prompt        PromptConfig        `yaml:"prompt"`
	Cart          CartConfig          `yaml:"cart"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// VoiceConfig tunes the voice session: end-of-speech detection, upstream
// timeouts and the synthesized voice.
type VoiceConfig struct {
	// SpeechThreshold is the audio level (0-128) at which speech starts.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// PeakRatio is the fraction of the utterance peak below which a level
	// counts as silence once speech was detected.
	PeakRatio float64 `yaml:"peak_ratio"`

	SilenceDuration time.Duration `yaml:"silence_duration"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	MinSpeech       time.Duration `yaml:"min_speech"`

	// RelistenDelay is the pause between playback completing and the next
	// recording in continuous mode.
	RelistenDelay time.Duration `yaml:"relisten_delay"`

	STTTimeout      time.Duration `yaml:"stt_timeout"`
	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	TTSTimeout      time.Duration `yaml:"tts_timeout"`
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`

	// Continuous is the default for new sessions; clients may override it.
	Continuous bool `yaml:"continuous"`

	// Language is the transcription language hint (e.g., "en").
	Language string `yaml:"language"`

	// Profile is the TTS voice used for replies.
	Profile tts.VoiceProfile `yaml:"profile"`
}

// VAD returns the end-of-speech detection settings.
func (v VoiceConfig) VAD() vad.Config {
	return vad.Config{
		SpeechThreshold: v.SpeechThreshold,
		PeakRatio:       v.PeakRatio,
		Silence:         v.SilenceDuration,
		GracePeriod:     v.GracePeriod,
		MaxDuration:     v.MaxDuration,
		MinSpeech:       v.MinSpeech,
	}
}

// PromptConfig configures the prompt sent to the language model.
type PromptConfig struct {
	// Menu lists the orderable products. Empty selects the built-in menu.
	Menu []prompt.MenuItem `yaml:"menu"`

	// Instructions are appended to the system prompt.
	Instructions string `yaml:"instructions"`

	HistoryTurns   int     `yaml:"history_turns"`
	MaxInputChars  int     `yaml:"max_input_chars"`
	MaxOutputChars int     `yaml:"max_output_chars"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// CartConfig selects the cart store.
type CartConfig struct {
	Backend CartBackend `yaml:"backend"`

	// DSN is the PostgreSQL connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	// RedisURL is the redis:// URL for the redis backend.
	RedisURL string `yaml:"redis_url"`

	// TTL expires idle carts in the redis backend. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// ObservabilityConfig controls telemetry.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the Prometheus /metrics endpoint. Defaults to true.
	Metrics *bool `yaml:"metrics"`

	// TraceSampleRatio is the fraction of new traces that are sampled, in
	// [0, 1]. Requests carrying a sampled parent are always recorded.
	// Defaults to 1.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// SampleRatio returns the configured trace sample ratio or 1.
func (o ObservabilityConfig) SampleRatio() float64 {
	if o.TraceSampleRatio == nil {
		return 1
	}
	return *o.TraceSampleRatio
}

// MetricsEnabled reports whether /metrics should be served.
func (o ObservabilityConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}
