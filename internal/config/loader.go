package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultSampleRate    = 48000
	DefaultFrameDuration = 30 * time.Millisecond
	DefaultQueueSize     = 100
	DefaultVADMode       = 2
	DefaultMarginDB      = 10.0
	DefaultCalibration   = 3 * time.Second
	DefaultMaxRecord     = 30 * time.Second
	DefaultTempPrefix    = "tts_"
	DefaultBlockSize     = 1024
	DefaultCueGap        = time.Second
	DefaultSessionID     = "rasp-pi-001"
	DefaultLanguage      = "th-TH"
	DefaultGreeting      = "สวัสดี"
	DefaultThankYouDelay = 2 * time.Second
	DefaultIdleTimeout   = 60 * time.Second

	DefaultForegroundSilence = time.Second
	DefaultForegroundPadding = 300 * time.Millisecond
	DefaultBackgroundSilence = 300 * time.Millisecond
	DefaultBackgroundPadding = 100 * time.Millisecond
	DefaultBackgroundMax     = 5 * time.Second
)

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about anything else, since third-party factories may be registered.
var ValidProviderNames = map[string][]string{
	"stt":      {"google", "whisper", "deepgram"},
	"tts":      {"remote", "openai", "google"},
	"dialogue": {"remote", "llm"},
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vad":      {"webrtc"},
	"audio":    {"portaudio"},
}

// Load reads, expands, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. ${VAR} references are expanded
// from the environment before decoding; unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
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

// ApplyDefaults fills zero-valued fields in place.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.FrameDuration, DefaultFrameDuration)
	setDefault(&cfg.Audio.QueueSize, DefaultQueueSize)

	l := &cfg.Listener
	if l.VADMode == nil {
		l.VADMode = ptr(DefaultVADMode)
	}
	if l.MarginDB == nil {
		l.MarginDB = ptr(DefaultMarginDB)
	}
	setDefault(&l.Calibration, DefaultCalibration)
	setDefault(&l.MaxRecord, DefaultMaxRecord)
	setDefault(&l.Foreground.SilenceTimeout, DefaultForegroundSilence)
	setDefault(&l.Foreground.PostPadding, DefaultForegroundPadding)
	setDefault(&l.Foreground.MaxDuration, l.MaxRecord)
	setDefault(&l.Background.SilenceTimeout, DefaultBackgroundSilence)
	setDefault(&l.Background.PostPadding, DefaultBackgroundPadding)
	setDefault(&l.Background.MaxDuration, DefaultBackgroundMax)

	setDefault(&cfg.Playback.TempPrefix, DefaultTempPrefix)
	setDefault(&cfg.Playback.BlockSize, DefaultBlockSize)
	setDefault(&cfg.Playback.CueGap, DefaultCueGap)

	s := &cfg.Session
	setDefault(&s.ID, DefaultSessionID)
	setDefault(&s.Language, DefaultLanguage)
	setDefault(&s.Greeting, DefaultGreeting)
	setDefault(&s.ThankYouDelay, DefaultThankYouDelay)
	setDefault(&s.IdleTimeout, DefaultIdleTimeout)

	setDefault(&cfg.Providers.VAD.Name, "webrtc")
	setDefault(&cfg.Providers.Audio.Name, "portaudio")
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

func ptr[T any](v T) *T { return &v }

// Validate checks that cfg is coherent and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	} else if cfg.Audio.SampleRate > 0 && !slices.Contains([]int{8000, 16000, 32000, 48000}, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is not supported by the voice activity detector; use 8000, 16000, 32000 or 48000", cfg.Audio.SampleRate))
	}
	switch cfg.Audio.FrameDuration {
	case 0, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		errs = append(errs, fmt.Errorf("audio.frame_duration %v is invalid; valid values: 10ms, 20ms, 30ms", cfg.Audio.FrameDuration))
	}

	l := cfg.Listener
	if l.VADMode != nil && (*l.VADMode < 0 || *l.VADMode > 3) {
		errs = append(errs, fmt.Errorf("listener.vad_mode %d is out of range [0, 3]", *l.VADMode))
	}
	if l.KeywordMaxDistance < 0 {
		errs = append(errs, fmt.Errorf("listener.keyword_max_distance %d must not be negative", l.KeywordMaxDistance))
	}
	for name, t := range map[string]Timeouts{"foreground": l.Foreground, "background": l.Background} {
		if t.SilenceTimeout < 0 || t.PostPadding < 0 || t.MaxDuration < 0 {
			errs = append(errs, fmt.Errorf("listener.%s timeouts must not be negative", name))
		}
	}

	if cfg.Playback.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("playback.block_size %d must be positive", cfg.Playback.BlockSize))
	}
	if cfg.Playback.ProcessingSound != "" {
		if _, err := os.Stat(cfg.Playback.ProcessingSound); err != nil {
			slog.Warn("playback.processing_sound is not readable; the cue will be skipped", "path", cfg.Playback.ProcessingSound, "err", err)
		}
	}

	if cfg.Session.ThankYouDelay < 0 || cfg.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session delays must not be negative"))
	}

	p := cfg.Providers
	required := []struct {
		kind  string
		entry ProviderEntry
	}{{"stt", p.STT}, {"tts", p.TTS}, {"dialogue", p.Dialogue}}
	for _, r := range required {
		if r.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", r.kind))
		}
	}
	if p.Dialogue.Name == "llm" && p.LLM.Name == "" {
		errs = append(errs, errors.New(`providers.dialogue "llm" requires providers.llm`))
	}
	for _, e := range p.DialogueFallback {
		if e.Name == "llm" && p.LLM.Name == "" {
			errs = append(errs, errors.New(`providers.dialogue_fallback "llm" requires providers.llm`))
		}
	}

	validateProviderName("stt", p.STT.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("dialogue", p.Dialogue.Name)
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("vad", p.VAD.Name)
	validateProviderName("audio", p.Audio.Name)
	for kind, list := range map[string][]ProviderEntry{
		"stt": p.STTFallback, "tts": p.TTSFallback, "dialogue": p.DialogueFallback, "llm": p.LLMFallback,
	} {
		for i, e := range list {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallback[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
