// Package app wires the cafevox subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the cart store and builds
// the voice orchestrator and HTTP routes, Run serves until the context ends,
// and Shutdown closes everything in order.
//
// For testing, inject doubles via functional options (WithCartStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/config"
	"github.com/MrWong99/cafevox/internal/health"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/internal/resilience"
	"github.com/MrWong99/cafevox/internal/voice"
	"github.com/MrWong99/cafevox/internal/web"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
	"github.com/MrWong99/cafevox/pkg/provider/vad"
	"github.com/MrWong99/cafevox/pkg/provider/vad/energy"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// VAD defaults to the level-based energy detector.
	VAD vad.Engine

	// Names label provider metrics.
	Names voice.ProviderNames
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	cart     cart.Store
	metrics  *observe.Metrics
	level    *slog.LevelVar
	orch     *voice.Orchestrator
	sessions *SessionManager
	health   *health.Handler
	handler  http.Handler

	// baseCtx is the parent of every request context. Cancelling it ends
	// hijacked voice connections, which http.Server.Shutdown does not wait
	// for.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCartStore injects a cart store instead of opening one from config.
func WithCartStore(s cart.Store) Option {
	return func(a *App) { a.cart = s }
}

// WithMetrics injects the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go; cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.VAD == nil {
		a.providers.VAD = energy.New()
	}

	// ── 1. Cart store ────────────────────────────────────────────────────
	if err := a.initCart(ctx); err != nil {
		return nil, fmt.Errorf("app: init cart: %w", err)
	}

	// ── 2. Voice orchestrator ────────────────────────────────────────────
	orch, err := voice.New(VoiceConfig(cfg), voice.Deps{
		STT:     a.providers.STT,
		LLM:     a.providers.LLM,
		TTS:     a.providers.TTS,
		VAD:     a.providers.VAD,
		Cart:    a.cart,
		Prompt:  PromptBuilder(cfg),
		Metrics: a.metrics,
		Names:   a.providers.Names,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	if err := orch.Update(VoiceConfig(cfg), PromptBuilder(cfg), cfg.Prompt.MaxOutputChars); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init voice: %w", err)
	}
	a.orch = orch
	a.sessions = NewSessionManager()

	// ── 3. HTTP routes ───────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init http: %w", err)
	}
	a.baseCtx, a.cancelBase = context.WithCancel(context.WithoutCancel(ctx))
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCart opens the configured cart backend unless one was injected.
func (a *App) initCart(ctx context.Context) error {
	if a.cart != nil {
		return nil
	}
	cc := a.cfg.Cart
	switch cc.Backend {
	case config.CartPostgres:
		store, err := cart.OpenPostgres(ctx, cc.DSN)
		if err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return err
		}
		a.cart = store
		a.closers = append(a.closers, store.Close)
	case config.CartRedis:
		var opts []cart.RedisOption
		if cc.TTL > 0 {
			opts = append(opts, cart.WithTTL(cc.TTL))
		}
		store, err := cart.OpenRedis(ctx, cc.RedisURL, opts...)
		if err != nil {
			return err
		}
		a.cart = store
		a.closers = append(a.closers, store.Close)
	default:
		a.cart = cart.NewMemStore()
	}
	slog.Info("cart store ready", "backend", cc.Backend)
	return nil
}

// initHTTP builds the route table: API, health, metrics and session listing.
func (a *App) initHTTP() error {
	api, err := web.New(web.Config{
		Orchestrator: a.orch,
		Cart:         a.cart,
		Tracker:      a.sessions,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.Register(mux)

	var checkers []health.Checker
	if p, ok := a.cart.(cart.Pinger); ok {
		checkers = append(checkers, health.PingChecker("cart", p))
	}
	for _, slot := range a.providerSlots() {
		if p, ok := slot.value.(health.Pinger); ok {
			checkers = append(checkers, health.PingChecker(slot.kind, p))
		}
	}
	a.health = health.New(checkers...)
	a.health.Register(mux)

	if a.cfg.Observability.MetricsEnabled() {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	mux.HandleFunc("GET /debug/sessions", a.handleSessions)
	mux.HandleFunc("GET /debug/providers", a.handleProviders)

	a.handler = observe.Middleware(a.metrics)(mux)
	return nil
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.sessions.List()); err != nil {
		slog.Debug("app: write sessions", "err", err)
	}
}

// statusReporter is implemented by the resilience fallback groups.
type statusReporter interface {
	Status() []resilience.ProviderStatus
}

type providerSlot struct {
	kind  string
	value any
}

func (a *App) providerSlots() []providerSlot {
	return []providerSlot{
		{"llm", a.providers.LLM},
		{"stt", a.providers.STT},
		{"tts", a.providers.TTS},
	}
}

// handleProviders lists the circuit state of every provider behind a
// fallback group, keyed by kind.
func (a *App) handleProviders(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string][]resilience.ProviderStatus)
	for _, slot := range a.providerSlots() {
		if r, ok := slot.value.(statusReporter); ok {
			out[slot.kind] = r.Status()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Debug("app: write provider status", "err", err)
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live voice session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// stops accepting connections. Call Shutdown afterwards to drain sessions and
// close the stores.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config().Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.config()
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of a changed configuration:
// log level, prompt and voice settings. Changes that need a restart are
// logged. It has the signature of a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PromptChanged || d.VoiceProfileChanged || d.VoiceTimingChanged {
		if err := a.orch.Update(VoiceConfig(new), PromptBuilder(new), new.Prompt.MaxOutputChars); err != nil {
			slog.Error("config reload rejected", "err", err)
		} else {
			slog.Info("voice settings reloaded",
				"prompt", d.PromptChanged,
				"profile", d.VoiceProfileChanged,
				"timing", d.VoiceTimingChanged,
			)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends all voice sessions, waits for them up to the ctx deadline
// and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))
		a.health.SetDraining(true)
		a.cancelBase()
		if err := a.sessions.Wait(ctx); err != nil {
			slog.Warn("sessions still running at shutdown deadline", "remaining", a.sessions.Count())
			shutdownErr = err
		}
		a.close()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) close() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// VoiceConfig converts the voice and prompt sections into session tunables.
func VoiceConfig(cfg *config.Config) voice.Config {
	v := cfg.Voice
	return voice.Config{
		VAD:             v.VAD(),
		RelistenDelay:   v.RelistenDelay,
		STTTimeout:      v.STTTimeout,
		LLMTimeout:      v.LLMTimeout,
		TTSTimeout:      v.TTSTimeout,
		PlaybackTimeout: v.PlaybackTimeout,
		Continuous:      v.Continuous,
		Language:        v.Language,
		Voice:           v.Profile,
		HistoryTurns:    cfg.Prompt.HistoryTurns,
		MaxTokens:       cfg.Prompt.MaxTokens,
		Temperature:     cfg.Prompt.Temperature,
	}
}

// PromptBuilder builds the prompt builder for the prompt section.
func PromptBuilder(cfg *config.Config) *prompt.Builder {
	return prompt.NewBuilder(prompt.Config{
		Menu:          cfg.Prompt.Menu,
		Instructions:  cfg.Prompt.Instructions,
		MaxInputChars: cfg.Prompt.MaxInputChars,
	})
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
