// Package google provides a TTS provider backed by Google Cloud
// Text-to-Speech. SSML requests are forwarded as SSML input; output is MP3.
package google

import (
	"context"
	"errors"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MrWong99/mira/pkg/provider/tts"
)

const defaultLanguage = "th-TH"

// Synthesizer is the subset of *texttospeech.Client used by the provider.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

var _ Synthesizer = (*texttospeech.Client)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the voice language (BCP-47). Defaults to "th-TH".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithVoice selects a named voice (e.g., "th-TH-Standard-A").
func WithVoice(name string) Option {
	return func(p *Provider) { p.voice = name }
}

// WithSpeakingRate sets the speaking rate (0.25–4.0, 1.0 = normal).
func WithSpeakingRate(rate float64) Option {
	return func(p *Provider) { p.speakingRate = rate }
}

// Provider implements tts.Provider on Google Cloud Text-to-Speech.
type Provider struct {
	client       Synthesizer
	language     string
	voice        string
	speakingRate float64
}

var _ tts.Provider = (*Provider)(nil)

// New dials Google Cloud Text-to-Speech.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Provider, error) {
	c, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google tts: new client: %w", err)
	}
	return NewWithSynthesizer(c, opts...)
}

// NewWithSynthesizer wraps an existing client. Used by tests.
func NewWithSynthesizer(s Synthesizer, opts ...Option) (*Provider, error) {
	if s == nil {
		return nil, errors.New("google tts: synthesizer must not be nil")
	}
	p := &Provider{client: s, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	input := &texttospeechpb.SynthesisInput{}
	if req.SSML {
		input.InputSource = &texttospeechpb.SynthesisInput_Ssml{Ssml: req.Text}
	} else {
		input.InputSource = &texttospeechpb.SynthesisInput_Text{Text: req.Text}
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: p.language,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  p.speakingRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google tts: synthesize: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("google tts: %w: empty audio content", tts.ErrNotAudio)
	}
	return &tts.Audio{Data: resp.GetAudioContent(), ContentType: "audio/mpeg"}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}
