// Command cafevox is the main entry point for the cafevox voice ordering server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cafevox/internal/app"
	"github.com/MrWong99/cafevox/internal/config"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/resilience"
	"github.com/MrWong99/cafevox/internal/voice"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
	"github.com/MrWong99/cafevox/pkg/provider/llm/anyllm"
	"github.com/MrWong99/cafevox/pkg/provider/llm/openai"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/stt/whisper"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
	"github.com/MrWong99/cafevox/pkg/provider/tts/coqui"
	oaitts "github.com/MrWong99/cafevox/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload prompt, voice and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cafevox: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cafevox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("cafevox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before app.New so the default metrics bind to the Prometheus
	// meter provider.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Observability.SampleRatio(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("config watcher stopped", "err", err)
				}
			}()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers the provider implementations that ship
// with cafevox.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	newCompletion := func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	}
	reg.RegisterLLM("openai", newCompletion)
	// llama.cpp's server speaks the OpenAI completions API.
	reg.RegisterLLM("llamacpp", func(entry config.ProviderEntry) (llm.Provider, error) {
		if entry.BaseURL == "" {
			entry.BaseURL = "http://localhost:8080/v1"
		}
		return newCompletion(entry)
	})

	// Chat-completion backends through any-llm-go.
	for _, name := range anyllm.Backends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.APIKey != "" {
			opts = append(opts, whisper.WithAPIKey(entry.APIKey))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if vadFilter, ok := entry.Options["vad_filter"].(bool); ok {
			opts = append(opts, whisper.WithVADFilter(vadFilter))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	newSpeech := func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaitts.WithDefaultVoice(v))
		}
		if f := optString(entry.Options, "response_format"); f != "" {
			opts = append(opts, oaitts.WithResponseFormat(f))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	}
	reg.RegisterTTS("openai", newSpeech)
	// Kokoro-FastAPI exposes the OpenAI speech endpoint.
	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Provider, error) {
		if entry.BaseURL == "" {
			entry.BaseURL = "http://localhost:8880/v1"
		}
		if entry.Model == "" {
			entry.Model = "kokoro"
		}
		return newSpeech(entry)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg, each wrapped in a
// circuit-breaking fallback group over its configured fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	llmGroup, err := buildGroup("llm", cfg.Providers.LLM, reg.CreateLLM,
		func(p llm.Provider, name string) *resilience.LLMFallback {
			return resilience.NewLLMFallback(p, name, fallbackConfig("llm"))
		})
	if err != nil {
		return nil, err
	}
	sttGroup, err := buildGroup("stt", cfg.Providers.STT, reg.CreateSTT,
		func(p stt.Provider, name string) *resilience.STTFallback {
			return resilience.NewSTTFallback(p, name, fallbackConfig("stt"))
		})
	if err != nil {
		return nil, err
	}
	ttsGroup, err := buildGroup("tts", cfg.Providers.TTS, reg.CreateTTS,
		func(p tts.Provider, name string) *resilience.TTSFallback {
			return resilience.NewTTSFallback(p, name, fallbackConfig("tts"))
		})
	if err != nil {
		return nil, err
	}

	return &app.Providers{
		LLM: llmGroup,
		STT: sttGroup,
		TTS: ttsGroup,
		Names: voice.ProviderNames{
			LLM: cfg.Providers.LLM.Name,
			STT: cfg.Providers.STT.Name,
			TTS: cfg.Providers.TTS.Name,
		},
	}, nil
}

// buildGroup creates entry's provider and its fallbacks and wraps them in a
// fallback group.
func buildGroup[P any, G interface{ AddFallback(string, P) }](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (P, error),
	wrap func(P, string) G,
) (G, error) {
	var zero G
	if entry.Name == "" {
		return zero, fmt.Errorf("providers.%s is not configured", kind)
	}
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	group := wrap(primary, entry.Name)
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	return group, nil
}

// fallbackConfig counts every breaker transition of a kind's providers.
// Empty audio and empty text are already permanent in the STT and TTS groups.
func fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, kind, to.String())
			},
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         cafevox · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Cart store      : %-19s ║\n", cfg.Cart.Backend)
	menu := len(cfg.Prompt.Menu)
	if menu == 0 {
		fmt.Printf("║  Menu items      : %-19s ║\n", "(built-in)")
	} else {
		fmt.Printf("║  Menu items      : %-19d ║\n", menu)
	}
	fmt.Printf("║  Continuous      : %-19t ║\n", cfg.Voice.Continuous)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
