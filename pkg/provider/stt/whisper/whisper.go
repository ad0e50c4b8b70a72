// Package whisper transcribes utterances through a whisper HTTP server.
//
// The default endpoint is whisper.cpp's POST /inference. Servers exposing
// the OpenAI transcription route (faster-whisper-server, LocalAI, ...) work
// with WithPath("/v1/audio/transcriptions"). Either way the WAV container is
// uploaded as the multipart "file" field and the reply is JSON {"text": ...}.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("th"))
//	text, err := p.Transcribe(ctx, stt.Request{Audio: wav, SampleRate: 48000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/mira/pkg/provider/stt"
)

const (
	defaultPath    = "/inference"
	defaultTimeout = 30 * time.Second
	// maxErrorBody caps how much of an error reply is quoted in the error.
	maxErrorBody = 512
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel forwards a model name. Empty lets the server pick.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language hint used when a request carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPath overrides the endpoint path, "/inference" by default.
func WithPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.path = "/" + strings.TrimLeft(path, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client = &http.Client{Timeout: d} }
}

// Provider is a whisper server client.
type Provider struct {
	endpoint string
	path     string
	model    string
	language string
	client   *http.Client
}

// New creates a Provider for the server rooted at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: base URL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(baseURL, "/"),
		path:     defaultPath,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads req.Audio and returns the recognised text. Blank
// results and empty input map to stt.ErrNoResult.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("whisper: %w: empty audio", stt.ErrNoResult)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	fields := map[string]string{"response_format": "json"}
	if lang != "" {
		fields["language"] = shortLanguage(lang)
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	body, contentType, err := form(req.Audio, fields)
	if err != nil {
		return "", fmt.Errorf("whisper: encode upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+p.path, body)
	if err != nil {
		return "", fmt.Errorf("whisper: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("whisper: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode reply: %w", err)
	}
	if text := strings.TrimSpace(out.Text); text != "" {
		return text, nil
	}
	return "", stt.ErrNoResult
}

// form builds the multipart upload with the WAV as "file" followed by fields.
func form(wav []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// shortLanguage reduces a BCP-47 tag to the ISO 639-1 code whisper expects
// ("th-TH" becomes "th").
func shortLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
