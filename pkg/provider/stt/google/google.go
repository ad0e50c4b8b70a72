// Package google provides an STT provider backed by the Google Cloud
// Speech-to-Text v1 API (synchronous Recognize).
//
// Utterances are sent as LINEAR16 WAV content. The first alternative of every
// result is concatenated into the transcript.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MrWong99/mira/pkg/provider/stt"
)

const defaultLanguage = "th-TH"

// Recognizer is the subset of *speech.Client used by the provider.
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

var _ Recognizer = (*speech.Client)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language (BCP-47).
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel selects a recognition model (e.g., "latest_short").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithPunctuation toggles automatic punctuation.
func WithPunctuation(on bool) Option {
	return func(p *Provider) { p.punctuation = on }
}

// Provider implements stt.Provider on Google Cloud Speech.
type Provider struct {
	client      Recognizer
	language    string
	model       string
	punctuation bool
}

var _ stt.Provider = (*Provider)(nil)

// New dials Google Cloud Speech. clientOpts typically carry credentials, for
// example option.WithCredentialsFile.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Provider, error) {
	c, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: new client: %w", err)
	}
	return NewWithRecognizer(c, opts...)
}

// NewWithRecognizer wraps an existing client. Used by tests.
func NewWithRecognizer(r Recognizer, opts ...Option) (*Provider, error) {
	if r == nil {
		return nil, errors.New("google stt: recognizer must not be nil")
	}
	p := &Provider{client: r, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("google stt: %w: empty audio", stt.ErrNoResult)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(req.SampleRate),
			LanguageCode:               lang,
			Model:                      p.model,
			EnableAutomaticPunctuation: p.punctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google stt: recognize: %w", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", stt.ErrNoResult
	}
	return strings.Join(parts, " "), nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}
