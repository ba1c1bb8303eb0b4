// Package ticketing defines the ticketing collaborator, the payload sent to
// it and the durable fallback used when it cannot be reached.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
)

var (
	// ErrUnavailable marks failures worth retrying: the ticketing system
	// could not be reached or answered with a server error.
	ErrUnavailable = errors.New("ticketing unavailable")
	ErrNotFound    = errors.New("fallback entry not found")
	ErrClaimed     = errors.New("fallback entry already claimed")
)

type Client interface {
	CreateTicket(ctx context.Context, payload Payload) (string, error)
}

// ClientFunc adapts a function to [Client].
type ClientFunc func(ctx context.Context, payload Payload) (string, error)

func (f ClientFunc) CreateTicket(ctx context.Context, payload Payload) (string, error) {
	return f(ctx, payload)
}

type Requester struct {
	Email       *string `json:"email,omitempty" jsonschema:"format=email"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

// Payload is the ticket creation request. It is persisted verbatim when the
// ticketing system is unavailable, so replaying it creates the same ticket.
type Payload struct {
	CallID          string                `json:"call_id"`
	Subject         string                `json:"subject"`
	Contents        string                `json:"contents"`
	Requester       Requester             `json:"requester"`
	IssueSummary    *string               `json:"issue_summary,omitempty"`
	Resolution      calls.Resolution      `json:"resolution" jsonschema:"enum=answered,enum=escalated,enum=abandoned"`
	Transcript      []calls.Utterance     `json:"transcript"`
	Attempts        []calls.AnswerAttempt `json:"attempts"`
	Tags            []string              `json:"tags"`
	Priority        string                `json:"priority,omitempty" jsonschema:"enum=low,enum=normal,enum=high,enum=urgent"`
	Type            string                `json:"type,omitempty"`
	DurationSeconds int                   `json:"duration_seconds"`
	CreatedAt       time.Time             `json:"created_at"`
}

const subjectTimeLayout = "2006-01-02 15:04:05"

// NewPayload renders a finalized ticket into a creation request.
func NewPayload(ticket calls.Ticket) Payload {
	callStartedAt := ticket.CreatedAt.Add(-ticket.Duration)
	return Payload{
		CallID:   string(ticket.CallID),
		Subject:  fmt.Sprintf("AI Call Assistant Conversation - %s", callStartedAt.Format(subjectTimeLayout)),
		Contents: FormatContents(ticket),
		Requester: Requester{
			Email:       ticket.Profile.Email,
			PhoneNumber: ticket.Profile.PhoneNumber,
		},
		IssueSummary:    ticket.Profile.IssueSummary,
		Resolution:      ticket.Resolution,
		Transcript:      ticket.Transcript,
		Attempts:        ticket.Attempts,
		Tags:            ticket.Tags,
		Priority:        ticket.Priority,
		Type:            ticket.Type,
		DurationSeconds: int(ticket.Duration / time.Second),
		CreatedAt:       ticket.CreatedAt,
	}
}
