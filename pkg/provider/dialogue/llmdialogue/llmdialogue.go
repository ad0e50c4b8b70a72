// Package llmdialogue implements dialogue.Client locally on top of an
// llm.Provider. The model is instructed to answer with a single JSON object
// {"intent": ..., "response_ssml": ...}; per-session history is kept in
// memory only and is dropped by Reset.
package llmdialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/llm"
)

// DefaultSystemPrompt describes the expected JSON contract.
const DefaultSystemPrompt = `You are MIRA, a polite table-side restaurant assistant. Reply in the customer's language.
Classify every customer message into one intent: greeting, add_order, cancel_order, modify_order,
confirm_order, show_current_order, inquire_total, show_menu, show_promotion, recommend_dish,
suggest_combo, call_staff, request_bill, payment_method, thank_you, open_topic, unknown.
Answer with exactly one JSON object and nothing else:
{"intent": "<intent>", "response_ssml": "<speak>...</speak>"}
Do not wrap the JSON in Markdown code fences.`

const defaultMaxHistory = 20

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(c *Client) { c.systemPrompt = p }
}

// WithMaxHistory bounds the number of remembered messages per session.
func WithMaxHistory(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// Client implements dialogue.Client over an LLM.
type Client struct {
	llm          llm.Provider
	systemPrompt string
	maxHistory   int
	temperature  float64

	mu      sync.Mutex
	history map[string][]llm.Message
}

var _ dialogue.Client = (*Client)(nil)

// New creates a Client backed by p.
func New(p llm.Provider, opts ...Option) (*Client, error) {
	if p == nil {
		return nil, errors.New("llmdialogue: llm provider must not be nil")
	}
	c := &Client{
		llm:          p,
		systemPrompt: DefaultSystemPrompt,
		maxHistory:   defaultMaxHistory,
		history:      make(map[string][]llm.Message),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Reset implements dialogue.Client.
func (c *Client) Reset(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, sessionID)
	return nil
}

// Ask implements dialogue.Client.
func (c *Client) Ask(ctx context.Context, sessionID, text string) (*dialogue.Reply, error) {
	c.mu.Lock()
	msgs := append([]llm.Message(nil), c.history[sessionID]...)
	c.mu.Unlock()
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: c.systemPrompt,
		Messages:     msgs,
		Temperature:  c.temperature,
		JSON:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("llmdialogue: complete: %w", err)
	}

	reply := parseReply(resp.Content)
	if strings.TrimSpace(reply.ResponseSSML) == "" {
		return reply, dialogue.ErrEmptyReply
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	if over := len(msgs) - c.maxHistory; over > 0 {
		msgs = msgs[over:]
	}
	c.mu.Lock()
	c.history[sessionID] = msgs
	c.mu.Unlock()
	return reply, nil
}

// HistoryLen returns the number of remembered messages for sessionID.
func (c *Client) HistoryLen(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history[sessionID])
}

// parseReply decodes the model output. Output that is not the expected JSON
// object is spoken verbatim under IntentUnknown.
func parseReply(content string) *dialogue.Reply {
	raw := stripFences(content)
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		var out struct {
			Intent       string           `json:"intent"`
			ResponseSSML string           `json:"response_ssml"`
			Response     string           `json:"response"`
			Orders       []dialogue.Order `json:"orders"`
		}
		if err := json.Unmarshal([]byte(raw[i:j+1]), &out); err == nil && out.Intent != "" {
			ssml := out.ResponseSSML
			if ssml == "" {
				ssml = out.Response
			}
			return &dialogue.Reply{Intent: out.Intent, ResponseSSML: ssml, Orders: out.Orders}
		}
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return &dialogue.Reply{Intent: dialogue.IntentUnknown}
	}
	return &dialogue.Reply{Intent: dialogue.IntentUnknown, ResponseSSML: "<speak>" + text + "</speak>"}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
