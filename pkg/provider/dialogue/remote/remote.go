// Package remote implements dialogue.Client against the HTTP dialogue
// service:
//
//	POST /ask            {"session_id","user_input"} -> {"intent","response_ssml",...}
//	POST /reset-session  {"session_id"}
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient = &http.Client{Timeout: d} }
}

// Client implements dialogue.Client over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ dialogue.Client = (*Client)(nil)
	_ dialogue.Pinger = (*Client)(nil)
)

// New creates a Client for the service at baseURL (e.g. "http://10.0.0.5:8000").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote dialogue: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Reset implements dialogue.Client.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	body := map[string]string{"session_id": sessionID}
	if err := c.post(ctx, "/reset-session", body, nil); err != nil {
		return fmt.Errorf("remote dialogue: reset: %w", err)
	}
	return nil
}

// Ask implements dialogue.Client.
func (c *Client) Ask(ctx context.Context, sessionID, text string) (*dialogue.Reply, error) {
	body := map[string]string{"session_id": sessionID, "user_input": text}
	var reply dialogue.Reply
	if err := c.post(ctx, "/ask", body, &reply); err != nil {
		return nil, fmt.Errorf("remote dialogue: ask: %w", err)
	}
	if strings.TrimSpace(reply.ResponseSSML) == "" {
		return &reply, dialogue.ErrEmptyReply
	}
	return &reply, nil
}

// Ping reports whether the service answers HTTP at all. Any status code
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("remote dialogue: ping: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote dialogue: ping: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}
