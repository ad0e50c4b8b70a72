// Package remote provides a TTS provider for a speech service that accepts
// POST {"text": "...", "is_ssml": bool} and answers with an audio/mpeg body.
//
// Usage:
//
//	p, err := remote.New("http://tts.local:8000/api/shared/speak")
//	a, err := p.Synthesize(ctx, tts.Request{Text: ssml, SSML: true})
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/mira/pkg/provider/tts"
)

const (
	defaultTimeout = 15 * time.Second

	// maxErrorBody caps how much of a non-audio body is kept for the error message.
	maxErrorBody = 512
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against the remote speak endpoint.
type Provider struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider posting to endpoint.
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		return nil, errors.New("remote tts: endpoint must not be empty")
	}
	p := &Provider{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type speakRequest struct {
	Text   string `json:"text"`
	IsSSML bool   `json:"is_ssml"`
}

// Synthesize implements tts.Provider. Only audio/mpeg responses are accepted.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	body, err := json.Marshal(speakRequest{Text: req.Text, IsSSML: req.SSML})
	if err != nil {
		return nil, fmt.Errorf("remote tts: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote tts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote tts: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("remote tts: server returned HTTP %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "audio/mpeg" {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("remote tts: %w: content-type %q: %s", tts.ErrNotAudio, ct, snippet)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote tts: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("remote tts: %w: empty body", tts.ErrNotAudio)
	}
	return &tts.Audio{Data: data, ContentType: ct}, nil
}
