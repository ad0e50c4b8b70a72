// Package mock provides scriptable vad.Engine and vad.SessionHandle doubles.
//
// A zero Engine hands out sessions that call every frame speech. Set
// Engine.Session to control the decisions:
//
//	marker := &mock.Session{Classify: func(b []byte) (vad.VADEvent, error) {
//		if b[0] == 1 {
//			return vad.VADEvent{Type: vad.VADSpeech, Probability: 1}, nil
//		}
//		return vad.VADEvent{Type: vad.VADSilence}, nil
//	}}
//	eng := &mock.Engine{Session: marker}
package mock

import (
	"sync"

	"github.com/MrWong99/mira/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine is a vad.Engine double.
type Engine struct {
	// Session is returned by every NewSession call. Nil yields a fresh
	// all-speech Session per call.
	Session vad.SessionHandle

	// NewSessionErr fails every NewSession call when set.
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

// NewSession records cfg and returns the configured session or error.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	e.configs = append(e.configs, cfg)
	e.mu.Unlock()

	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{Script: []vad.VADEvent{{Type: vad.VADSpeech, Probability: 1}}}, nil
}

// Configs returns a copy of every Config passed to NewSession.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session is a vad.SessionHandle double. Decision order: Classify, then
// ProcessFrameErr, then Script.
type Session struct {
	// Classify decides each frame when set.
	Classify func(frame []byte) (vad.VADEvent, error)

	// ProcessFrameErr fails every frame when set.
	ProcessFrameErr error

	// Script is consumed one event per frame; its last event repeats. An
	// empty Script reports silence.
	Script []vad.VADEvent

	mu    sync.Mutex
	stats Stats
}

// Stats counts calls on a Session.
type Stats struct {
	Frames, Resets, Closes int
}

// ProcessFrame returns the next scripted decision.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	s.stats.Frames++
	var ev vad.VADEvent
	if n := len(s.Script); n > 0 {
		ev = s.Script[0]
		if n > 1 {
			s.Script = s.Script[1:]
		}
	}
	s.mu.Unlock()

	if s.Classify != nil {
		return s.Classify(frame)
	}
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	return ev, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	s.stats.Resets++
	s.mu.Unlock()
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.stats.Closes++
	s.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the call counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
