// Package webrtc provides a VAD engine backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// The WebRTC detector is a binary classifier that accepts 16-bit mono PCM at
// 8, 16, 32 or 48 kHz in frames of 10, 20 or 30 ms. Aggressiveness is set per
// session via [vad.Config.Mode].
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/mira/pkg/provider/vad"
)

var supportedRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

// Engine creates WebRTC VAD sessions.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !supportedRates[cfg.SampleRate] {
		return nil, fmt.Errorf("webrtc vad: unsupported sample rate %d", cfg.SampleRate)
	}
	switch cfg.FrameSizeMs {
	case 10, 20, 30:
	default:
		return nil, fmt.Errorf("webrtc vad: unsupported frame size %d ms", cfg.FrameSizeMs)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := v.SetMode(cfg.Mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Mode, err)
	}
	return &Session{vad: v, cfg: cfg, frameBytes: cfg.FrameBytes()}, nil
}

// Session is a single WebRTC VAD instance.
type Session struct {
	mu         sync.Mutex
	vad        *webrtcvad.VAD
	cfg        vad.Config
	frameBytes int
	closed     bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements [vad.SessionHandle]. Frames must be exactly one
// configured frame long.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("webrtc vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}
	active, err := s.vad.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	if active {
		return vad.VADEvent{Type: vad.VADSpeech, Probability: 1}, nil
	}
	return vad.VADEvent{Type: vad.VADSilence}, nil
}

// Reset re-applies the aggressiveness mode, which resets the detector's
// internal history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.vad.SetMode(s.cfg.Mode)
}

// Close implements [vad.SessionHandle]. The underlying detector is released
// by its finalizer.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
