package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/llm"
	"github.com/MrWong99/mira/pkg/provider/stt"
	"github.com/MrWong99/mira/pkg/provider/tts"
)

// ─── STT ──────────────────────────────────────────────────────────────────────

// STTFallback implements [stt.Provider] across several recognizers. "No
// speech" from one recognizer is an answer, not a failure.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] with primary preferred.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = "stt"
	cfg.Final = chainFinal(cfg.Final, func(err error) bool { return errors.Is(err, stt.ErrNoResult) })
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another recognizer.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// ─── TTS ──────────────────────────────────────────────────────────────────────

// TTSFallback implements [tts.Provider] across several synthesizers. A
// non-audio payload counts as a failure and moves on to the next one.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a [TTSFallback] with primary preferred.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg.Kind = "tts"
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesizer.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Audio, error) {
		a, err := p.Synthesize(ctx, req)
		if err == nil && !a.IsAudio() {
			return nil, tts.ErrNotAudio
		}
		return a, err
	})
}

// ─── Dialogue ─────────────────────────────────────────────────────────────────

// DialogueFallback implements [dialogue.Client] across several dialogue
// services, typically the remote service with a local LLM behind it. An
// empty reply is returned to the caller as-is.
type DialogueFallback struct {
	group *FallbackGroup[dialogue.Client]
}

var (
	_ dialogue.Client = (*DialogueFallback)(nil)
	_ dialogue.Pinger = (*DialogueFallback)(nil)
)

// NewDialogueFallback returns a [DialogueFallback] with primary preferred.
func NewDialogueFallback(primary dialogue.Client, primaryName string, cfg FallbackConfig) *DialogueFallback {
	cfg.Kind = "dialogue"
	return &DialogueFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another dialogue client.
func (f *DialogueFallback) AddFallback(name string, c dialogue.Client) { f.group.AddFallback(name, c) }

// Group exposes the underlying group for health reporting.
func (f *DialogueFallback) Group() *FallbackGroup[dialogue.Client] { return f.group }

// Reset clears the session on every entry so a later failover starts clean.
// It fails only if no entry could be reset.
func (f *DialogueFallback) Reset(ctx context.Context, sessionID string) error {
	var errs []error
	for i := range f.group.entries {
		e := &f.group.entries[i]
		if err := e.value.Reset(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f.group.entries) {
		return errors.Join(errs...)
	}
	return nil
}

// Ask implements [dialogue.Client].
func (f *DialogueFallback) Ask(ctx context.Context, sessionID, text string) (*dialogue.Reply, error) {
	empty := false
	reply, err := ExecuteWithResult(ctx, f.group, func(c dialogue.Client) (*dialogue.Reply, error) {
		r, err := c.Ask(ctx, sessionID, text)
		if errors.Is(err, dialogue.ErrEmptyReply) && r != nil {
			empty = true
			return r, nil
		}
		return r, err
	})
	if err == nil && empty {
		return reply, dialogue.ErrEmptyReply
	}
	return reply, err
}

// Ping probes the primary when it supports it.
func (f *DialogueFallback) Ping(ctx context.Context) error {
	if p, ok := f.group.Primary().(dialogue.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ─── LLM ──────────────────────────────────────────────────────────────────────

// LLMFallback implements [llm.Provider] across several model backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an [LLMFallback] with primary preferred.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	cfg.Kind = "llm"
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Group exposes the underlying group for health reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

func chainFinal(a, b func(error) bool) func(error) bool {
	if a == nil {
		return b
	}
	return func(err error) bool { return a(err) || b(err) }
}
