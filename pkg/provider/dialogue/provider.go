// Package dialogue defines the client interface for the intent/dialogue
// service that turns a transcribed utterance into an intent and a spoken
// reply.
//
// The service owns all menu, order and session state; Mira only forwards
// text and renders the reply. Implementations must be safe for concurrent use.
package dialogue

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyReply is returned when the service answers without any reply text.
var ErrEmptyReply = errors.New("dialogue: empty reply")

// Intents that drive conversation state transitions. Any other value is
// treated as a regular turn.
const (
	IntentGreeting     = "greeting"
	IntentConfirmOrder = "confirm_order"
	IntentThankYou     = "thank_you"
	IntentUnknown      = "unknown"
)

// Order is one line item reported back by the service.
type Order struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Qty    int     `json:"qty"`
	Price  float64 `json:"price"`
	Status string  `json:"status,omitempty"`
}

// Reply is the service answer to one user utterance.
type Reply struct {
	// Intent is the classified intent (e.g. "add_order", "confirm_order").
	Intent string `json:"intent"`

	// ResponseSSML is the reply to speak, usually wrapped in <speak>.
	ResponseSSML string `json:"response_ssml"`

	// Orders is the current order list, when the intent touched it.
	Orders []Order `json:"orders,omitempty"`

	// TotalPrice and Discount are reported as numbers or numeric strings.
	TotalPrice json.Number `json:"total_price,omitempty"`
	Discount   json.Number `json:"discount,omitempty"`
}

// Client is the dialogue service abstraction.
type Client interface {
	// Reset clears the server-side session identified by sessionID.
	Reset(ctx context.Context, sessionID string) error

	// Ask forwards one utterance and returns the service reply.
	Ask(ctx context.Context, sessionID, text string) (*Reply, error)
}

// Pinger is implemented by clients that can cheaply probe reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
