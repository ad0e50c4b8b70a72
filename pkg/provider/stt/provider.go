// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider receives one finalised utterance encoded as a WAV container and
// returns its transcript. Capture, segmentation and voice activity detection
// happen before the provider is called, so implementations are plain
// request/response clients for a remote recognition service.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoResult is returned when the recognizer completed successfully but
// found no speech in the audio.
var ErrNoResult = errors.New("stt: no result")

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is the utterance as a 16-bit PCM WAV container.
	Audio []byte

	// SampleRate of the PCM inside Audio, in Hz.
	SampleRate int

	// Language is a BCP-47 language code (e.g., "th-TH"). Empty lets the
	// provider use its configured default.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the recognised text for req. It returns [ErrNoResult]
	// (possibly wrapped) when the service recognised nothing, and another
	// error for transport or service failures.
	Transcribe(ctx context.Context, req Request) (string, error)
}
