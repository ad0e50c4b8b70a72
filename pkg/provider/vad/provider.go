// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (e.g., WebRTC VAD) and
// surfaces it as a stateful, per-stream session. Each capture opens its own
// session so that background scanning and foreground capture never share
// classifier state.
//
// VAD is synchronous: ProcessFrame returns immediately with a decision, which
// keeps the segmenter loop free of extra goroutines.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when a frame does not have the
// length the classifier requires.
var ErrFrameSize = errors.New("vad: unsupported frame size")

// DefaultMode is the default classifier aggressiveness.
const DefaultMode = 2

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. WebRTC
	// VAD accepts 10, 20 or 30 ms.
	FrameSizeMs int

	// Mode is the aggressiveness in [0, 3]; higher values reject more
	// non-speech at the cost of clipping quiet speech.
	Mode int
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("vad: frame size must be positive, got %d", c.FrameSizeMs)
	}
	if c.Mode < 0 || c.Mode > 3 {
		return fmt.Errorf("vad: mode must be in [0, 3], got %d", c.Mode)
	}
	return nil
}

// FrameBytes returns the exact byte length of one 16-bit mono frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// VADEvent is the classification result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0). Binary
	// classifiers report 0 or 1.
	Probability float64
}

// IsSpeech reports whether the frame was classified as speech.
func (e VADEvent) IsSpeech() bool { return e.Type == VADSpeech }

// VADEventType enumerates VAD decisions.
type VADEventType int

const (
	// VADSilence indicates no speech detected.
	VADSilence VADEventType = iota

	// VADSpeech indicates the frame contains speech.
	VADSpeech
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeech:
		return "speech"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian 16-bit mono PCM.
	// Returns [ErrFrameSize] (wrapped) if the frame length is wrong.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if the
	// configuration is invalid or unsupported by the backend.
	NewSession(cfg Config) (SessionHandle, error)
}
