package calls

import "time"

type Resolution string

const (
	ResolutionAnswered  Resolution = "answered"
	ResolutionEscalated Resolution = "escalated"
	ResolutionAbandoned Resolution = "abandoned"
)

// ResolveOutcome derives the final resolution of a call. Any answered attempt
// wins over earlier unresolved ones; a call that ended because the caller
// went silent without an answer is abandoned; everything else escalates.
func ResolveOutcome(attempts []AnswerAttempt, cause TerminationCause) Resolution {
	for _, attempt := range attempts {
		if attempt.Outcome == OutcomeAnswered {
			return ResolutionAnswered
		}
	}
	if cause == CauseCallerSilent {
		return ResolutionAbandoned
	}
	return ResolutionEscalated
}

// LastAnswered returns the most recent answered attempt, if any.
func LastAnswered(attempts []AnswerAttempt) (AnswerAttempt, bool) {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Outcome == OutcomeAnswered {
			return attempts[i], true
		}
	}
	return AnswerAttempt{}, false
}

// Ticket is the durable record of a finished call.
type Ticket struct {
	CallID     CallID          `json:"call_id"`
	Profile    CallerProfile   `json:"profile"`
	Transcript []Utterance     `json:"transcript"`
	Resolution Resolution      `json:"resolution"`
	Attempts   []AnswerAttempt `json:"attempts"`
	Tags       []string        `json:"tags"`
	Duration   time.Duration   `json:"duration"`
	Priority   string          `json:"priority,omitempty"`
	Type       string          `json:"type,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
