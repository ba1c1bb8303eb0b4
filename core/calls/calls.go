// Package calls holds the data model shared by the call session orchestrator
// and its collaborators.
package calls

import "time"

// CallID is the opaque identifier the telephony transport assigns to a call.
type CallID string

func (id CallID) String() string { return string(id) }

type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Utterance is one finalized piece of speech in the call transcript. Once
// appended to a transcript it is never modified.
type Utterance struct {
	ID         string    `json:"id"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"is_final"`
	// Interrupted is set on agent utterances that were cut short by the
	// caller; Text then holds only what was actually played.
	Interrupted bool `json:"interrupted,omitempty"`
}

// CallerProfile is filled progressively while the call runs. Nil fields were
// never captured.
type CallerProfile struct {
	PhoneNumber  *string `json:"phone_number,omitempty"`
	Email        *string `json:"email,omitempty"`
	IssueSummary *string `json:"issue_summary,omitempty"`
}

type Match struct {
	ArticleID string `json:"article_id"`
	Title     string `json:"title,omitempty"`
	Snippet   string `json:"snippet"`
}

type Outcome string

const (
	OutcomeAnswered   Outcome = "answered"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeGateError  Outcome = "gate_error"
)

// AnswerAttempt records one knowledge base lookup made on behalf of the
// caller.
type AnswerAttempt struct {
	Number    int           `json:"number"`
	Query     string        `json:"query"`
	Match     *Match        `json:"match,omitempty"`
	Score     float64       `json:"score"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// CallSession is a point-in-time copy of a live call. The session worker owns
// the original; everything else only ever sees snapshots.
type CallSession struct {
	ID             CallID           `json:"id"`
	Channel        string           `json:"channel"`
	State          State            `json:"state"`
	Transcript     []Utterance      `json:"transcript"`
	Profile        CallerProfile    `json:"profile"`
	Attempts       []AnswerAttempt  `json:"attempts"`
	CreatedAt      time.Time        `json:"created_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	Cause          TerminationCause `json:"cause,omitempty"`
}
