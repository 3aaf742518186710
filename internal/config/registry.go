package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/cafevox/pkg/provider/llm"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config names a provider that
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factorySet is the name → factory table of one provider kind.
type factorySet[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func newFactorySet[T any](kind string) *factorySet[T] {
	return &factorySet[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (s *factorySet[T]) register(name string, f Factory[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = f
}

func (s *factorySet[T]) create(entry ProviderEntry) (T, error) {
	s.mu.RLock()
	f, ok := s.m[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	return f(entry)
}

func (s *factorySet[T]) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.m))
}

// Registry maps the provider names used in the providers section to
// factories. Registering a name twice replaces the earlier factory. It is
// safe for concurrent use.
type Registry struct {
	llm *factorySet[llm.Provider]
	stt *factorySet[stt.Provider]
	tts *factorySet[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactorySet[llm.Provider]("llm"),
		stt: newFactorySet[stt.Provider]("stt"),
		tts: newFactorySet[tts.Provider]("tts"),
	}
}

// RegisterLLM registers a language-model factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.register(name, f) }

// RegisterSTT registers a speech-to-text factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.stt.register(name, f) }

// RegisterTTS registers a text-to-speech factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.tts.register(name, f) }

// CreateLLM builds the language model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateSTT builds the recogniser named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.create(entry) }

// CreateTTS builds the voice named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// Names returns the sorted provider names registered for kind ("llm", "stt"
// or "tts"). Unknown kinds have none.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}
