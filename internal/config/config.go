// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for Mira.
package config

import "time"

// LogLevel controls log verbosity.
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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which also apply defaults.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Listener  ListenerConfig  `yaml:"listener"`
	Keywords  KeywordsConfig  `yaml:"keywords"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Session   SessionConfig   `yaml:"session"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the HTTP surface (metrics, health, avatar events) and
// logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g., ":8080"). Empty
	// disables the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// AvatarOrigins lists browser origins allowed to open /events.
	AvatarOrigins []string `yaml:"avatar_origins"`
}

// AudioConfig selects the physical devices and the capture format.
type AudioConfig struct {
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// SampleRate applies to capture and playback. Default: 48000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDuration is the capture frame length (10, 20 or 30ms). Default: 30ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// QueueSize bounds the frames buffered between the driver and the
	// segmenter. Default: 100.
	QueueSize int `yaml:"queue_size"`
}

// Timeouts configures one listening mode.
type Timeouts struct {
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	PostPadding    time.Duration `yaml:"post_padding"`
	MaxDuration    time.Duration `yaml:"max_duration"`
}

// ListenerConfig tunes calibration, segmentation and keyword matching.
type ListenerConfig struct {
	// VADMode is the classifier aggressiveness in [0, 3]. Default: 2.
	VADMode *int `yaml:"vad_mode"`

	// MarginDB is added to the ambient level to form the speech threshold.
	// Default: 10.
	MarginDB *float64 `yaml:"margin_db"`

	// Calibration is how long ambient noise is measured. Default: 3s.
	Calibration time.Duration `yaml:"calibration"`

	// MaxRecord is the foreground capture ceiling. Default: 30s.
	MaxRecord time.Duration `yaml:"max_record"`

	// KeywordMaxDistance is the Levenshtein distance tolerated when matching
	// keywords. 0 requires an exact match.
	KeywordMaxDistance int `yaml:"keyword_max_distance"`

	Foreground Timeouts `yaml:"foreground"`
	Background Timeouts `yaml:"background"`
}

// KeywordsConfig holds the keyword lists. Nil lists fall back to the built-in
// Thai defaults; an explicit empty list disables the class.
type KeywordsConfig struct {
	Wake    []string `yaml:"wake"`
	Stop    []string `yaml:"stop"`
	Exit    []string `yaml:"exit"`
	Confirm []string `yaml:"confirm"`
	Cancel  []string `yaml:"cancel"`
}

// PlaybackConfig tunes the output side.
type PlaybackConfig struct {
	// TempDir holds synthesised speech files. Default: the OS temp dir.
	TempDir string `yaml:"temp_dir"`

	// TempPrefix marks files eligible for deletion after playback.
	// Default: "tts_".
	TempPrefix string `yaml:"temp_prefix"`

	// BlockSize is the number of sample frames per device write. Default: 1024.
	BlockSize int `yaml:"block_size"`

	// ProcessingSound is looped while waiting for the dialogue service.
	// Empty disables the cue.
	ProcessingSound string `yaml:"processing_sound"`

	// CueGap is the pause between cue repetitions. Default: 1s.
	CueGap time.Duration `yaml:"cue_gap"`
}

// SessionConfig configures the dialogue turn coordinator.
type SessionConfig struct {
	ID              string        `yaml:"id"`
	Language        string        `yaml:"language"`
	Greeting        string        `yaml:"greeting"`
	ThankYouDelay   time.Duration `yaml:"thank_you_delay"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequireWakeWord bool          `yaml:"require_wake_word"`
}

// ProvidersConfig declares the backend for each external collaborator. Each
// entry's Name selects a factory registered in the [Registry]. Fallback lists
// are tried in order when the primary fails.
type ProvidersConfig struct {
	STT              ProviderEntry   `yaml:"stt"`
	STTFallback      []ProviderEntry `yaml:"stt_fallback"`
	TTS              ProviderEntry   `yaml:"tts"`
	TTSFallback      []ProviderEntry `yaml:"tts_fallback"`
	Dialogue         ProviderEntry   `yaml:"dialogue"`
	DialogueFallback []ProviderEntry `yaml:"dialogue_fallback"`
	LLM              ProviderEntry   `yaml:"llm"`
	LLMFallback      []ProviderEntry `yaml:"llm_fallback"`
	VAD              ProviderEntry   `yaml:"vad"`
	Audio            ProviderEntry   `yaml:"audio"`

	// Breaker tunes the circuit breaker placed in front of every backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors the circuit breaker settings.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "google", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Required for
	// self-hosted services such as "whisper" and "remote".
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Timeout bounds one request. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OptString returns Options[key] when it is a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptFloat returns Options[key] as a float64 when it is numeric.
func (e ProviderEntry) OptFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// OptInt returns Options[key] as an int when it is a whole number.
func (e ProviderEntry) OptInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
