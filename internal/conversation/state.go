package conversation

import (
	"encoding/json"
	"fmt"
)

// State is a step of the turn loop.
type State int32

const (
	StateStart State = iota
	StateGreeting
	StateListening
	StateConfirming
	StateThankYou
	StateEnd
)

var stateNames = [...]string{
	StateStart:      "START",
	StateGreeting:   "GREETING",
	StateListening:  "LISTENING",
	StateConfirming: "CONFIRMING",
	StateThankYou:   "THANK_YOU",
	StateEnd:        "END",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("conversation: unknown state %q", name)
}
