package events

import "github.com/koscakluka/ema-support/core/calls"

const (
	// KindTurnCompleted identifies the end of a caller turn.
	KindTurnCompleted Kind = "turn_control.turn_completed"
	// KindInterrupted identifies caller barge-in over agent speech.
	KindInterrupted Kind = "turn_control.interrupted"
	// KindCallerSilentTimeout identifies caller abandonment.
	KindCallerSilentTimeout Kind = "turn_control.caller_silent_timeout"
)

// TurnCompleted carries the text of a finished caller turn.
type TurnCompleted struct {
	Base
	Text       string
	Utterances []calls.Utterance
}

// NewTurnCompleted creates a turn completed event.
func NewTurnCompleted(callID calls.CallID, text string, utterances []calls.Utterance) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted, callID), Text: text, Utterances: utterances}
}

// Interrupted marks the caller speaking over the agent.
type Interrupted struct{ Base }

// NewInterrupted creates a barge-in event.
func NewInterrupted(callID calls.CallID) Interrupted {
	return Interrupted{Base: NewBase(KindInterrupted, callID)}
}

// CallerSilentTimeout marks the caller going silent past the abandonment
// threshold.
type CallerSilentTimeout struct{ Base }

// NewCallerSilentTimeout creates a caller silent timeout event.
func NewCallerSilentTimeout(callID calls.CallID) CallerSilentTimeout {
	return CallerSilentTimeout{Base: NewBase(KindCallerSilentTimeout, callID)}
}
