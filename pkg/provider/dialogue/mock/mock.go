// Package mock provides a test double for the dialogue.Client interface.
//
// Example:
//
//	c := &mock.Client{Replies: []mock.Result{{Reply: &dialogue.Reply{Intent: "greeting", ResponseSSML: "<speak>hi</speak>"}}}}
//	r, err := c.Ask(ctx, "s", "สวัสดี")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
)

// Result is one scripted Ask outcome.
type Result struct {
	Reply *dialogue.Reply
	Err   error
}

// AskCall records one Ask invocation.
type AskCall struct {
	SessionID string
	Text      string
}

// Client is a mock implementation of dialogue.Client.
type Client struct {
	mu sync.Mutex

	// Replies are returned in order. When exhausted, Default is returned; a
	// nil Default.Reply yields an "unknown" reply with a fixed SSML body.
	Replies []Result
	Default Result

	// ResetErr, if non-nil, is returned by Reset.
	ResetErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// Asks and Resets record calls in order.
	Asks   []AskCall
	Resets []string

	// OnAsk, when set, is called with each request before the reply is
	// returned. It runs without the lock held.
	OnAsk func(ctx context.Context, text string)
}

var (
	_ dialogue.Client = (*Client)(nil)
	_ dialogue.Pinger = (*Client)(nil)
)

// Reset records the call and returns ResetErr.
func (c *Client) Reset(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resets = append(c.Resets, sessionID)
	return c.ResetErr
}

// Ask records the call and returns the next scripted result.
func (c *Client) Ask(ctx context.Context, sessionID, text string) (*dialogue.Reply, error) {
	c.mu.Lock()
	c.Asks = append(c.Asks, AskCall{SessionID: sessionID, Text: text})
	r := c.Default
	if len(c.Replies) > 0 {
		r = c.Replies[0]
		c.Replies = c.Replies[1:]
	}
	hook := c.OnAsk
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, text)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Reply == nil {
		return &dialogue.Reply{Intent: dialogue.IntentUnknown, ResponseSSML: "<speak>mock</speak>"}, nil
	}
	reply := *r.Reply
	return &reply, nil
}

// Ping returns PingErr.
func (c *Client) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PingErr
}

// AskTexts returns the texts of all Ask calls in order.
func (c *Client) AskTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Asks))
	for i, a := range c.Asks {
		out[i] = a.Text
	}
	return out
}

// ResetCount returns the number of Reset calls.
func (c *Client) ResetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Resets)
}
