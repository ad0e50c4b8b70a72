package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/mira/internal/config"
	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/internal/resilience"
	"github.com/MrWong99/mira/pkg/audio"
	audiomock "github.com/MrWong99/mira/pkg/audio/mock"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
	dialoguemock "github.com/MrWong99/mira/pkg/provider/dialogue/mock"
	"github.com/MrWong99/mira/pkg/provider/llm"
	llmmock "github.com/MrWong99/mira/pkg/provider/llm/mock"
	"github.com/MrWong99/mira/pkg/provider/stt"
	sttmock "github.com/MrWong99/mira/pkg/provider/stt/mock"
	"github.com/MrWong99/mira/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mira/pkg/provider/tts/mock"
	"github.com/MrWong99/mira/pkg/provider/vad"
	vadmock "github.com/MrWong99/mira/pkg/provider/vad/mock"
)

// newTestBuilder registers the built-in factories and then overrides every
// device and network kind with mocks under the names used by testConfig.
func newTestBuilder(t *testing.T, cfg *config.Config) *builder {
	t.Helper()
	b := &builder{
		ctx:     context.Background(),
		cfg:     cfg,
		reg:     config.NewRegistry(),
		metrics: observe.DefaultMetrics(),
	}
	b.registerBuiltinProviders()

	b.reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Platform, error) {
		return &audiomock.Platform{}, nil
	})
	b.reg.RegisterVAD("webrtc", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})
	for _, name := range []string{"stt-a", "stt-b"} {
		b.reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) {
			return &sttmock.Provider{}, nil
		})
	}
	b.reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, errors.New("no credentials")
	})
	b.reg.RegisterTTS("tts-a", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	b.reg.RegisterDialogue("dlg-a", func(config.ProviderEntry) (dialogue.Client, error) {
		return &dialoguemock.Client{}, nil
	})
	b.reg.RegisterLLM("llm-a", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	t.Cleanup(b.close)
	return b
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			STT:         config.ProviderEntry{Name: "stt-a"},
			STTFallback: []config.ProviderEntry{{Name: "stt-b"}},
			TTS:         config.ProviderEntry{Name: "tts-a"},
			Dialogue:    config.ProviderEntry{Name: "dlg-a"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestBuildProviders_WrapsFallbacks(t *testing.T) {
	b := newTestBuilder(t, testConfig())

	ps, err := b.buildProviders()
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	chain, ok := ps.STT.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("STT = %T, want *resilience.STTFallback", ps.STT)
	}
	names := make([]string, 0)
	for n := range chain.Group().BreakerStates() {
		names = append(names, n)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"stt-a", "stt-b#1"}) {
		t.Errorf("stt entries = %v", names)
	}
	if _, ok := ps.Dialogue.(dialogue.Pinger); !ok {
		t.Error("dialogue chain should support Ping")
	}
	if len(ps.Health) != 3 {
		t.Errorf("health checks = %d, want 3", len(ps.Health))
	}
	if ps.Audio == nil || ps.VAD == nil || ps.TTS == nil {
		t.Error("missing provider")
	}
}

func TestBuildProviders_LLMDialogue(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.DialogueFallback = []config.ProviderEntry{{Name: "llm", Options: map[string]any{"max_history": 4}}}
	cfg.Providers.LLM = config.ProviderEntry{Name: "llm-a"}
	b := newTestBuilder(t, cfg)

	ps, err := b.buildProviders()
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if b.llm == nil {
		t.Fatal("llm chain was not built")
	}
	if len(ps.Health) != 4 {
		t.Errorf("health checks = %d, want 4 (with llm breakers)", len(ps.Health))
	} else if c := ps.Health[3]; c.Name != "llm_breakers" || !c.Optional {
		t.Errorf("llm check = %q optional=%v, want optional llm_breakers", c.Name, c.Optional)
	}
	if n := ps.Dialogue.(*resilience.DialogueFallback).Group().Len(); n != 2 {
		t.Errorf("dialogue entries = %d, want 2", n)
	}
}

func TestBuildProviders_LLMDialogueWithoutLLM(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.Dialogue = config.ProviderEntry{Name: "llm"}
	b := newTestBuilder(t, cfg)

	_, err := b.buildProviders()
	if err == nil || !strings.Contains(err.Error(), "providers.llm") {
		t.Fatalf("err = %v, want missing providers.llm", err)
	}
}

func TestBuildProviders_FactoryErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "primary",
			mutate: func(c *config.Config) { c.Providers.STT.Name = "broken" },
			want:   `create stt provider "broken"`,
		},
		{
			name:   "fallback",
			mutate: func(c *config.Config) { c.Providers.STTFallback = []config.ProviderEntry{{Name: "broken"}} },
			want:   `create stt fallback 0 "broken"`,
		},
		{
			name:   "unregistered",
			mutate: func(c *config.Config) { c.Providers.TTS.Name = "nope" },
			want:   "provider not registered",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := newTestBuilder(t, cfg).buildProviders()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestBuilder_Language(t *testing.T) {
	b := &builder{cfg: testConfig()}
	if got := b.language(config.ProviderEntry{}); got != config.DefaultLanguage {
		t.Errorf("language = %q, want session default", got)
	}
	e := config.ProviderEntry{Options: map[string]any{"language": "en-US"}}
	if got := b.language(e); got != "en-US" {
		t.Errorf("language = %q, want en-US", got)
	}
}

func TestGoogleClientOptions(t *testing.T) {
	if n := len(googleClientOptions(config.ProviderEntry{})); n != 0 {
		t.Errorf("empty entry gave %d options", n)
	}
	e := config.ProviderEntry{
		APIKey:  "k",
		BaseURL: "speech.example:443",
		Options: map[string]any{"credentials_file": "/etc/creds.json"},
	}
	if n := len(googleClientOptions(e)); n != 3 {
		t.Errorf("options = %d, want 3", n)
	}
}
