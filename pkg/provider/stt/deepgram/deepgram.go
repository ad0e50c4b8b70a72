// Package deepgram provides a Deepgram-backed STT provider that transcribes
// one finished utterance over the Deepgram streaming WebSocket API.
//
// The WAV container is streamed as-is (Deepgram detects containerised audio),
// followed by a CloseStream message. Final results are collected until the
// server closes the connection and joined into one transcript.
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/mira/pkg/provider/stt"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "th"
	// chunkSize is the WebSocket message size used to stream the WAV.
	chunkSize = 8 << 10
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Deepgram model, "nova-3" by default.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the language used when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithEndpoint overrides the WebSocket URL, for proxies and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithKeyterms boosts recognition of the given phrases, typically the wake,
// stop and exit words the listener scans for.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) { p.keyterms = append(p.keyterms, terms...) }
}

// WithMinConfidence drops final results whose top alternative scores below
// c, which keeps background noise from surfacing as words.
func WithMinConfidence(c float64) Option {
	return func(p *Provider) { p.minConfidence = c }
}

// Provider transcribes one utterance per WebSocket session.
type Provider struct {
	apiKey        string
	model         string
	language      string
	endpoint      string
	keyterms      []string
	minConfidence float64
}

// New creates a Provider. apiKey is required.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// buildURL adds the per-request query to the endpoint.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cmp.Or(req.Language, p.language)

	q := u.Query()
	for _, t := range p.keyterms {
		if t = strings.TrimSpace(t); t != "" {
			q.Add("keyterm", t)
		}
	}
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("deepgram: %w: empty audio", stt.ErrNoResult)
	}
	wsURL, err := p.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.readFinals(ctx, conn)
		done <- result{text, err}
	}()

	for off := 0; off < len(req.Audio); off += chunkSize {
		end := min(off+chunkSize, len(req.Audio))
		if err := conn.Write(ctx, websocket.MessageBinary, req.Audio[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if r.err != nil {
		return "", r.err
	}
	if r.text == "" {
		return "", stt.ErrNoResult
	}
	return r.text, nil
}

// readFinals reads results until the server closes the connection.
func (p *Provider) readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// Some proxies drop the connection without a close frame once the
			// stream is flushed, so collected text still counts.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || len(parts) > 0 {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := finalTranscript(msg, p.minConfidence); ok {
			parts = append(parts, text)
		}
	}
}

// listenResult is the subset of a Deepgram "Results" message we consume.
type listenResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// finalTranscript returns the top alternative of a final Results message
// scoring at least minConf. Metadata, interim and empty results are skipped.
func finalTranscript(data []byte, minConf float64) (string, bool) {
	var r listenResult
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || !r.IsFinal {
		return "", false
	}
	alts := r.Channel.Alternatives
	if len(alts) == 0 || alts[0].Confidence < minConf {
		return "", false
	}
	text := strings.TrimSpace(alts[0].Transcript)
	return text, text != ""
}
