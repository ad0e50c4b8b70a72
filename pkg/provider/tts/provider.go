// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns response text (optionally SSML) into a compressed
// audio payload such as MP3. Playback, decoding and temp-file handling are
// the caller's concern.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrNotAudio is returned when a backend answered successfully but the
// payload is not audio.
var ErrNotAudio = errors.New("tts: response is not audio")

// Request describes one synthesis call.
type Request struct {
	// Text is plain text or an SSML document.
	Text string

	// SSML marks Text as SSML markup.
	SSML bool

	// Voice optionally overrides the provider's configured voice.
	Voice string
}

// Audio is a synthesised payload.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/mpeg").
	ContentType string
}

// IsAudio reports whether the content type denotes an audio payload.
func (a *Audio) IsAudio() bool {
	return a != nil && strings.HasPrefix(strings.ToLower(a.ContentType), "audio/")
}

// Extension returns a file extension for the payload, including the dot.
func (a *Audio) Extension() string {
	ct := strings.ToLower(a.ContentType)
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	default:
		return ".mp3"
	}
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req into audio. It returns [ErrNotAudio] (wrapped)
	// when the backend produced a non-audio payload.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// StripSSML removes markup tags from an SSML document, for backends that only
// accept plain text.
func StripSSML(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
