package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/llm"
	"github.com/MrWong99/mira/pkg/provider/stt"
	"github.com/MrWong99/mira/pkg/provider/tts"
	"github.com/MrWong99/mira/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration block.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

func (f factories[T]) names(mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructors for each provider kind.
// It is safe for concurrent use. Registering a name twice overwrites the
// earlier factory.
type Registry struct {
	mu       sync.RWMutex
	stt      factories[stt.Provider]
	tts      factories[tts.Provider]
	dialogue factories[dialogue.Client]
	llm      factories[llm.Provider]
	vad      factories[vad.Engine]
	audio    factories[audio.Platform]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      newFactories[stt.Provider]("stt"),
		tts:      newFactories[tts.Provider]("tts"),
		dialogue: newFactories[dialogue.Client]("dialogue"),
		llm:      newFactories[llm.Provider]("llm"),
		vad:      newFactories[vad.Engine]("vad"),
		audio:    newFactories[audio.Platform]("audio"),
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

func (r *Registry) RegisterDialogue(name string, f Factory[dialogue.Client]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialogue.m[name] = f
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

func (r *Registry) RegisterAudio(name string, f Factory[audio.Platform]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = f
}

// CreateSTT instantiates the recognizer registered under entry.Name. It
// returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateTTS instantiates the synthesizer registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreateDialogue instantiates the dialogue client registered under entry.Name.
func (r *Registry) CreateDialogue(entry ProviderEntry) (dialogue.Client, error) {
	return r.dialogue.create(&r.mu, entry)
}

// CreateLLM instantiates the LLM backend registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(&r.mu, entry)
}

// CreateAudio instantiates the audio platform registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	return r.audio.create(&r.mu, entry)
}

// Names lists the registered names per kind, sorted. Used for startup logs.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"stt":      r.stt.names(&r.mu),
		"tts":      r.tts.names(&r.mu),
		"dialogue": r.dialogue.names(&r.mu),
		"llm":      r.llm.names(&r.mu),
		"vad":      r.vad.names(&r.mu),
		"audio":    r.audio.names(&r.mu),
	}
}
