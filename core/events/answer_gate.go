package events

import "github.com/koscakluka/ema-support/core/calls"

// KindAnswerAttemptRecorded identifies a finished knowledge base lookup.
const KindAnswerAttemptRecorded Kind = "answer_gate.attempt_recorded"

// AnswerAttemptRecorded carries the result of a knowledge base lookup.
type AnswerAttemptRecorded struct {
	Base
	Attempt calls.AnswerAttempt
}

// NewAnswerAttemptRecorded creates an answer attempt event.
func NewAnswerAttemptRecorded(callID calls.CallID, attempt calls.AnswerAttempt) AnswerAttemptRecorded {
	return AnswerAttemptRecorded{Base: NewBase(KindAnswerAttemptRecorded, callID), Attempt: attempt}
}
