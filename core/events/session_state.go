package events

import "github.com/koscakluka/ema-support/core/calls"

// KindStateChanged identifies a session state transition.
const KindStateChanged Kind = "session_state.changed"

// StateChanged carries a session state transition and what triggered it.
type StateChanged struct {
	Base
	From    calls.State
	To      calls.State
	Trigger string
}

// NewStateChanged creates a state changed event.
func NewStateChanged(callID calls.CallID, from, to calls.State, trigger string) StateChanged {
	return StateChanged{Base: NewBase(KindStateChanged, callID), From: from, To: to, Trigger: trigger}
}
