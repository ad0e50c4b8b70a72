package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"google.golang.org/api/option"

	"github.com/MrWong99/mira/internal/app"
	"github.com/MrWong99/mira/internal/config"
	"github.com/MrWong99/mira/internal/health"
	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/internal/resilience"
	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/audio/portaudio"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/dialogue/llmdialogue"
	dialogueremote "github.com/MrWong99/mira/pkg/provider/dialogue/remote"
	"github.com/MrWong99/mira/pkg/provider/llm"
	"github.com/MrWong99/mira/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/mira/pkg/provider/llm/openai"
	"github.com/MrWong99/mira/pkg/provider/stt"
	"github.com/MrWong99/mira/pkg/provider/stt/deepgram"
	googlestt "github.com/MrWong99/mira/pkg/provider/stt/google"
	"github.com/MrWong99/mira/pkg/provider/stt/whisper"
	"github.com/MrWong99/mira/pkg/provider/tts"
	googletts "github.com/MrWong99/mira/pkg/provider/tts/google"
	oatts "github.com/MrWong99/mira/pkg/provider/tts/openai"
	ttsremote "github.com/MrWong99/mira/pkg/provider/tts/remote"
	"github.com/MrWong99/mira/pkg/provider/vad"
	"github.com/MrWong99/mira/pkg/provider/vad/webrtc"
)

// builder turns the providers section of the config into live providers.
// Everything that holds a connection or device is recorded for close.
type builder struct {
	ctx     context.Context
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics

	mu      sync.Mutex
	closers []io.Closer

	llmOnce sync.Once
	llm     *resilience.LLMFallback
	llmErr  error
}

func (b *builder) track(c io.Closer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, c)
}

// close releases providers in reverse creation order.
func (b *builder) close() {
	b.mu.Lock()
	closers := slices.Clone(b.closers)
	b.closers = nil
	b.mu.Unlock()
	for _, c := range slices.Backward(closers) {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func (b *builder) registerBuiltinProviders() {
	reg := b.reg

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []googlestt.Option{googlestt.WithLanguage(b.language(entry))}
		if entry.Model != "" {
			opts = append(opts, googlestt.WithModel(entry.Model))
		}
		if v, ok := entry.Options["punctuation"].(bool); ok {
			opts = append(opts, googlestt.WithPunctuation(v))
		}
		p, err := googlestt.New(b.ctx, googleClientOptions(entry), opts...)
		if err != nil {
			return nil, err
		}
		b.track(p)
		return p, nil
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithLanguage(b.language(entry))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		if path := entry.OptString("path"); path != "" {
			opts = append(opts, whisper.WithPath(path))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(b.language(entry))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if c, ok := entry.OptFloat("min_confidence"); ok {
			opts = append(opts, deepgram.WithMinConfidence(c))
		}
		kw := app.KeywordSet(b.cfg.Keywords)
		opts = append(opts, deepgram.WithKeyterms(slices.Concat(kw.Wake, kw.Stop, kw.Exit)...))
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("remote", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsremote.Option
		if entry.Timeout > 0 {
			opts = append(opts, ttsremote.WithTimeout(entry.Timeout))
		}
		return ttsremote.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.OptString("voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oatts.WithTimeout(entry.Timeout))
		}
		if n, ok := entry.OptInt("max_retries"); ok {
			opts = append(opts, oatts.WithMaxRetries(n))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("google", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []googletts.Option{googletts.WithLanguage(b.language(entry))}
		if voice := entry.OptString("voice"); voice != "" {
			opts = append(opts, googletts.WithVoice(voice))
		}
		if rate, ok := entry.OptFloat("speaking_rate"); ok {
			opts = append(opts, googletts.WithSpeakingRate(rate))
		}
		p, err := googletts.New(b.ctx, googleClientOptions(entry), opts...)
		if err != nil {
			return nil, err
		}
		b.track(p)
		return p, nil
	})

	// ── Dialogue ──────────────────────────────────────────────────────────────

	reg.RegisterDialogue("remote", func(entry config.ProviderEntry) (dialogue.Client, error) {
		var opts []dialogueremote.Option
		if entry.Timeout > 0 {
			opts = append(opts, dialogueremote.WithTimeout(entry.Timeout))
		}
		return dialogueremote.New(entry.BaseURL, opts...)
	})

	// "llm" runs the dialogue locally on top of the providers.llm chain.
	reg.RegisterDialogue("llm", func(entry config.ProviderEntry) (dialogue.Client, error) {
		p, err := b.buildLLM()
		if err != nil {
			return nil, err
		}
		var opts []llmdialogue.Option
		if prompt := entry.OptString("system_prompt"); prompt != "" {
			opts = append(opts, llmdialogue.WithSystemPrompt(prompt))
		}
		if n, ok := entry.OptInt("max_history"); ok {
			opts = append(opts, llmdialogue.WithMaxHistory(n))
		}
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, llmdialogue.WithTemperature(t))
		}
		return llmdialogue.New(p, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the native SDK; every other backend goes through any-llm.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		if n, ok := entry.OptInt("max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return webrtc.New(), nil
	})

	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Platform, error) {
		p, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		b.track(p)
		return p, nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// language returns the per-provider language option or the session language.
func (b *builder) language(entry config.ProviderEntry) string {
	if lang := entry.OptString("language"); lang != "" {
		return lang
	}
	return b.cfg.Session.Language
}

// googleClientOptions maps a provider entry onto Google API client options.
// Without any of them the client uses application default credentials.
func googleClientOptions(entry config.ProviderEntry) []option.ClientOption {
	var opts []option.ClientOption
	if entry.APIKey != "" {
		opts = append(opts, option.WithAPIKey(entry.APIKey))
	}
	if file := entry.OptString("credentials_file"); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	if entry.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(entry.BaseURL))
	}
	return opts
}

// ── Fallback chains ───────────────────────────────────────────────────────────

func (b *builder) fallbackConfig(kind string) resilience.FallbackConfig {
	bc := b.cfg.Providers.Breaker
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  bc.MaxFailures,
			ResetTimeout: bc.ResetTimeout,
			HalfOpenMax:  bc.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "kind", kind, "provider", name, "from", from, "to", to)
			},
		},
		Kind:    kind,
		Metrics: b.metrics,
	}
}

// chain builds the primary and every fallback entry of one kind.
func chain[T any, G interface{ AddFallback(string, T) }](kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	wrap func(T, string) G,
) (G, error) {
	var zero G
	p, err := create(primary)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, primary.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", primary.Name)
	group := wrap(p, primary.Name)
	for i, entry := range fallbacks {
		fp, err := create(entry)
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %d %q: %w", kind, i, entry.Name, err)
		}
		name := fmt.Sprintf("%s#%d", entry.Name, i+1)
		group.AddFallback(name, fp)
		slog.Info("fallback provider created", "kind", kind, "name", name)
	}
	return group, nil
}

// buildLLM creates the LLM chain once; the "llm" dialogue factory may ask
// for it more than once when it also appears as a fallback.
func (b *builder) buildLLM() (*resilience.LLMFallback, error) {
	b.llmOnce.Do(func() {
		pc := b.cfg.Providers
		if pc.LLM.Name == "" {
			b.llmErr = errors.New("dialogue \"llm\" requires providers.llm")
			return
		}
		g, err := chain("llm", pc.LLM, pc.LLMFallback, b.reg.CreateLLM,
			func(p llm.Provider, name string) *resilience.LLMFallback {
				return resilience.NewLLMFallback(p, name, b.fallbackConfig("llm"))
			})
		if err != nil {
			b.llmErr = err
			return
		}
		b.llm = g
	})
	return b.llm, b.llmErr
}

// buildProviders instantiates every provider named in cfg, wraps the
// network-backed kinds in circuit-breaking fallback chains and returns them
// for the application to consume.
func (b *builder) buildProviders() (*app.Providers, error) {
	pc := b.cfg.Providers
	ps := &app.Providers{}

	audioPlatform, err := b.reg.CreateAudio(pc.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", pc.Audio.Name, err)
	}
	ps.Audio = audioPlatform
	slog.Info("provider created", "kind", "audio", "name", pc.Audio.Name)

	ps.VAD, err = b.reg.CreateVAD(pc.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", pc.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", pc.VAD.Name)

	sttChain, err := chain("stt", pc.STT, pc.STTFallback, b.reg.CreateSTT,
		func(p stt.Provider, name string) *resilience.STTFallback {
			return resilience.NewSTTFallback(p, name, b.fallbackConfig("stt"))
		})
	if err != nil {
		return nil, err
	}
	ps.STT = sttChain

	ttsChain, err := chain("tts", pc.TTS, pc.TTSFallback, b.reg.CreateTTS,
		func(p tts.Provider, name string) *resilience.TTSFallback {
			return resilience.NewTTSFallback(p, name, b.fallbackConfig("tts"))
		})
	if err != nil {
		return nil, err
	}
	ps.TTS = ttsChain

	dialogueChain, err := chain("dialogue", pc.Dialogue, pc.DialogueFallback, b.reg.CreateDialogue,
		func(c dialogue.Client, name string) *resilience.DialogueFallback {
			return resilience.NewDialogueFallback(c, name, b.fallbackConfig("dialogue"))
		})
	if err != nil {
		return nil, err
	}
	ps.Dialogue = dialogueChain

	ps.Health = []health.Checker{
		health.BreakerChecker("stt_breakers", sttChain.Group().BreakerStates),
		health.BreakerChecker("tts_breakers", ttsChain.Group().BreakerStates),
		health.BreakerChecker("dialogue_breakers", dialogueChain.Group().BreakerStates),
	}
	// The dialogue group already fails when the LLM-backed client is its only
	// way out, so the LLM group alone only degrades readiness.
	if b.llm != nil {
		ps.Health = append(ps.Health, health.Optional(health.BreakerChecker("llm_breakers", b.llm.Group().BreakerStates)))
	}
	return ps, nil
}
