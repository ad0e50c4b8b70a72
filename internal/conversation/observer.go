package conversation

import (
	"encoding/json"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
)

// TurnResult describes one exchange with the dialogue service.
type TurnResult struct {
	// UserText is what was forwarded: the transcript, or the greeting.
	UserText string `json:"user_text"`

	Intent       string           `json:"intent,omitempty"`
	ResponseSSML string           `json:"response_ssml,omitempty"`
	Orders       []dialogue.Order `json:"orders,omitempty"`
	TotalPrice   json.Number      `json:"total_price,omitempty"`
	Discount     json.Number      `json:"discount,omitempty"`

	// Next is the state the loop moves to after this turn.
	Next State `json:"next"`

	// Err is set when the service call failed. Nothing was spoken.
	Err error `json:"-"`
}

// Observer is notified of turn results and state changes. Calls happen on
// the conversation goroutine and must not block.
type Observer interface {
	OnTurn(TurnResult)
	OnState(State)
}

// ObserverFuncs adapts plain functions to [Observer]. Nil fields are skipped.
type ObserverFuncs struct {
	Turn  func(TurnResult)
	State func(State)
}

func (f ObserverFuncs) OnTurn(r TurnResult) {
	if f.Turn != nil {
		f.Turn(r)
	}
}

func (f ObserverFuncs) OnState(s State) {
	if f.State != nil {
		f.State(s)
	}
}
