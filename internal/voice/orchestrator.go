// Package voice runs realtime voice ordering sessions.
//
// A [Session] is the per-connection state machine: it records an utterance
// until the end-of-speech detector fires, transcribes it, streams the
// model's reply to the client, applies the reply's cart actions, speaks the
// reply and then listens again (continuous mode) or goes idle. One goroutine
// owns all session state; each turn's upstream calls run in a child
// goroutine bound to a cancellable context. At most one turn runs per
// session at a time.
//
// The [Orchestrator] holds what sessions share: the providers, the cart
// store, the prompt builder and the tunables. Prompt and tunables can be
// swapped at runtime with [Orchestrator.Update]; running turns keep the
// values they started with.
package voice

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/internal/stream"
	"github.com/MrWong99/cafevox/pkg/audio"
	"github.com/MrWong99/cafevox/pkg/provider/llm"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
	"github.com/MrWong99/cafevox/pkg/provider/vad"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultRelistenDelay = 500 * time.Millisecond
	defaultHistoryTurns  = 10
	defaultInboxSize     = 64
)

// Config holds the session tunables. Zero values select defaults.
type Config struct {
	VAD vad.Config

	RelistenDelay   time.Duration
	STTTimeout      time.Duration
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration
	PlaybackTimeout time.Duration

	// Continuous is the initial mode of new sessions.
	Continuous bool

	// Language is passed to the transcriber as a hint.
	Language string

	Voice tts.VoiceProfile

	HistoryTurns int
	MaxTokens    int
	Temperature  float64

	// MaxAudioBytes caps one utterance. Zero selects
	// [audio.DefaultMaxBufferBytes].
	MaxAudioBytes int

	// InboxSize bounds the queued client messages per session. Messages
	// beyond it are dropped.
	InboxSize int
}

func (c Config) withDefaults() Config {
	if c.VAD == (vad.Config{}) {
		c.VAD = vad.DefaultConfig()
	}
	if c.RelistenDelay == 0 {
		c.RelistenDelay = defaultRelistenDelay
	}
	for _, d := range []*time.Duration{&c.STTTimeout, &c.LLMTimeout, &c.TTSTimeout, &c.PlaybackTimeout} {
		if *d <= 0 {
			*d = defaultTimeout
		}
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = defaultHistoryTurns
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	return c
}

// Deps are the collaborators shared by all sessions. STT, LLM, TTS, VAD and
// Cart are required.
type Deps struct {
	STT  stt.Provider
	LLM  llm.Provider
	TTS  tts.Provider
	VAD  vad.Engine
	Cart cart.Store

	// Prompt renders the model prompt. Nil selects a builder with the
	// default menu.
	Prompt *prompt.Builder

	// Metrics records turn and provider telemetry. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Names label provider metrics. Empty names fall back to the kind.
	Names ProviderNames
}

// ProviderNames are the configured provider names, for telemetry.
type ProviderNames struct {
	STT string
	LLM string
	TTS string
}

// settings is the hot-swappable part of an Orchestrator.
type settings struct {
	cfg       Config
	builder   *prompt.Builder
	assembler *stream.Assembler
}

// Orchestrator creates sessions. It is safe for concurrent use.
type Orchestrator struct {
	stt     stt.Provider
	llm     llm.Provider
	tts     tts.Provider
	vad     vad.Engine
	cart    cart.Store
	metrics *observe.Metrics
	names   ProviderNames

	current atomic.Pointer[settings]
	active  atomic.Int64
}

// New validates deps and cfg and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	var errs []error
	if deps.STT == nil {
		errs = append(errs, errors.New("voice: stt provider is required"))
	}
	if deps.LLM == nil {
		errs = append(errs, errors.New("voice: llm provider is required"))
	}
	if deps.TTS == nil {
		errs = append(errs, errors.New("voice: tts provider is required"))
	}
	if deps.VAD == nil {
		errs = append(errs, errors.New("voice: vad engine is required"))
	}
	if deps.Cart == nil {
		errs = append(errs, errors.New("voice: cart store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		stt:     deps.STT,
		llm:     deps.LLM,
		tts:     deps.TTS,
		vad:     deps.VAD,
		cart:    deps.Cart,
		metrics: deps.Metrics,
		names:   deps.Names,
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.names.STT == "" {
		o.names.STT = "stt"
	}
	if o.names.LLM == "" {
		o.names.LLM = "llm"
	}
	if o.names.TTS == "" {
		o.names.TTS = "tts"
	}
	if err := o.Update(cfg, deps.Prompt, order.DefaultMaxOutputChars); err != nil {
		return nil, err
	}
	return o, nil
}

// Update replaces the tunables and the prompt builder for turns that start
// afterwards. maxOutputChars bounds accepted model output.
func (o *Orchestrator) Update(cfg Config, b *prompt.Builder, maxOutputChars int) error {
	cfg = cfg.withDefaults()
	if err := cfg.VAD.Validate(); err != nil {
		return err
	}
	if b == nil {
		b = prompt.NewBuilder(prompt.Config{})
	}
	parser := order.NewParser(order.NewValidator(maxOutputChars), order.NewNormalizer(b.MenuNames()))
	o.current.Store(&settings{
		cfg:       cfg,
		builder:   b,
		assembler: stream.NewAssembler(parser),
	})
	return nil
}

// Config returns the tunables new sessions start with.
func (o *Orchestrator) Config() Config {
	return o.current.Load().cfg
}

// ActiveSessions returns the number of sessions whose Run has not returned.
func (o *Orchestrator) ActiveSessions() int {
	return int(o.active.Load())
}

// NewSession creates a session for userID that reports to sink. The
// session does nothing until [Session.Run] is called.
func (o *Orchestrator) NewSession(userID string, sink Sink) *Session {
	cfg := o.current.Load().cfg
	id := uuid.NewString()
	return &Session{
		id:         id,
		userID:     userID,
		orch:       o,
		sink:       sink,
		log:        slog.With("session_id", id, "user_id", userID),
		inbox:      make(chan Message, cfg.InboxSize),
		updates:    make(chan turnUpdate, 8),
		timers:     make(chan timerFired, 4),
		done:       make(chan struct{}),
		continuous: cfg.Continuous,
		format:     audio.SpeechFormat,
		buf:        audio.NewBuffer(cfg.MaxAudioBytes),
		history:    NewHistory(cfg.HistoryTurns),
	}
}
