package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/retry"
	"github.com/koscakluka/ema-support/core/ticketing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var errNoTicketing = errors.New("no ticketing client configured")

type transitionRecord struct {
	From    calls.State
	To      calls.State
	Trigger string
	At      time.Time
}

// SubmitResult says where the ticket of a call ended up.
type SubmitResult struct {
	Ticket calls.Ticket
	// TicketID is set when the ticketing system accepted the ticket.
	TicketID string
	// FallbackEntryID is set when the payload was queued for replay.
	FallbackEntryID string
	Attempts        int
	Err             error
}

// ticketAssembler builds the ticket of one call while the call runs, so a
// best effort ticket exists whenever the call ends.
type ticketAssembler struct {
	callID    calls.CallID
	createdAt time.Time

	mu          sync.Mutex
	profile     calls.CallerProfile
	transcript  []calls.Utterance
	attempts    []calls.AnswerAttempt
	transitions []transitionRecord

	client     ticketing.Client
	fallback   ticketing.FallbackStore
	classifier Classifier
	policy     retry.Policy
	timeout    time.Duration
	emit       eventEmitter
	logger     *slog.Logger

	submitOnce sync.Once
	result     SubmitResult

	submitted metric.Int64Counter
}

func newTicketAssembler(callID calls.CallID, createdAt time.Time, o *Orchestrator) *ticketAssembler {
	assembler := &ticketAssembler{
		callID:     callID,
		createdAt:  createdAt,
		client:     o.ticketing,
		fallback:   o.fallback,
		classifier: o.classifier,
		policy:     o.config.ticketRetryPolicy(),
		timeout:    o.config.TicketSubmitTimeout,
		emit:       o.emit,
		logger:     o.logger,
	}
	assembler.submitted, _ = meter.Int64Counter("tickets.submitted",
		metric.WithDescription("Call tickets by delivery outcome"))
	return assembler
}

func (a *ticketAssembler) AddUtterance(utterance calls.Utterance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = append(a.transcript, utterance)
}

func (a *ticketAssembler) AddAttempt(attempt calls.AnswerAttempt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, attempt)
}

func (a *ticketAssembler) SetProfile(profile calls.CallerProfile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = profile
}

func (a *ticketAssembler) RecordTransition(from, to calls.State, t trigger, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitions = append(a.transitions, transitionRecord{From: from, To: to, Trigger: string(t), At: at})
}

// Finalize turns the draft into the ticket for a call that ended with cause
// at now.
func (a *ticketAssembler) Finalize(ctx context.Context, cause calls.TerminationCause, now time.Time) calls.Ticket {
	a.mu.Lock()
	ticket := calls.Ticket{
		CallID:     a.callID,
		Profile:    a.profile,
		Transcript: slices.Clone(a.transcript),
		Attempts:   slices.Clone(a.attempts),
		Duration:   now.Sub(a.createdAt),
		CreatedAt:  now,
	}
	a.mu.Unlock()

	ticket.Resolution = calls.ResolveOutcome(ticket.Attempts, cause)
	ticket.Tags = []string{"resolution:" + string(ticket.Resolution)}
	seen := map[string]bool{}
	for _, attempt := range ticket.Attempts {
		if attempt.Outcome != calls.OutcomeAnswered || attempt.Match == nil || seen[attempt.Match.ArticleID] {
			continue
		}
		seen[attempt.Match.ArticleID] = true
		ticket.Tags = append(ticket.Tags, "kb:"+attempt.Match.ArticleID)
	}
	if cause != calls.CauseNone {
		ticket.Tags = append(ticket.Tags, "cause:"+string(cause))
	}

	if a.classifier != nil {
		classification, err := a.classifier.Classify(ctx, callerText(ticket.Transcript))
		if err != nil {
			a.logger.WarnContext(ctx, "ticket classification failed", "call_id", a.callID.String(), "error", err)
		}
		ticket.Priority = classification.Priority
		ticket.Type = classification.Type
		if ticket.Priority != "" {
			ticket.Tags = append(ticket.Tags, "priority:"+ticket.Priority)
		}
		if ticket.Type != "" {
			ticket.Tags = append(ticket.Tags, "type:"+ticket.Type)
		}
	}
	return ticket
}

// Submit hands ticket to the ticketing system once per call. Later calls
// return the first result. Unavailability is retried per the assembler's
// policy, after which the unchanged payload is queued for replay.
func (a *ticketAssembler) Submit(ctx context.Context, ticket calls.Ticket) SubmitResult {
	a.submitOnce.Do(func() {
		a.result = a.submit(ctx, ticket)
	})
	return a.result
}

func (a *ticketAssembler) submit(ctx context.Context, ticket calls.Ticket) SubmitResult {
	// Termination cancels the session context; the ticket still has to go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "submit ticket")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", a.callID.String()),
		attribute.String("ticket.resolution", string(ticket.Resolution)),
		attribute.StringSlice("call.state_path", a.statePath()),
	)

	result := SubmitResult{Ticket: ticket}
	payload := ticketing.NewPayload(ticket)

	var err error
	if a.client == nil {
		err = errNoTicketing
	} else {
		err = a.policy.Do(ctx, func(ctx context.Context, attempt int) error {
			result.Attempts = attempt
			ticketID, err := a.client.CreateTicket(ctx, payload)
			if err != nil {
				a.logger.WarnContext(ctx, "ticket creation failed", "call_id", a.callID.String(), "attempt", attempt, "error", err)
				return err
			}
			result.TicketID = ticketID
			return nil
		}, func(err error) bool { return errors.Is(err, ticketing.ErrUnavailable) })
	}
	if err == nil {
		a.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "created")))
		a.logger.InfoContext(ctx, "ticket created", "call_id", a.callID.String(), "ticket_id", result.TicketID, "resolution", string(ticket.Resolution))
		a.emit(events.NewTicketSubmitted(a.callID, result.TicketID, ticket.Resolution))
		return result
	}

	span.RecordError(err)
	reason := err.Error()
	if a.fallback == nil {
		result.Err = fmt.Errorf("ticket for call %s lost, no fallback store: %w", a.callID, err)
		span.SetStatus(codes.Error, result.Err.Error())
		a.logger.ErrorContext(ctx, "ticket could not be delivered or queued", "call_id", a.callID.String(), "error", result.Err)
		return result
	}

	entry, queueErr := a.fallback.Enqueue(ctx, payload, reason)
	if queueErr != nil {
		result.Err = errors.Join(err, fmt.Errorf("failed to queue ticket: %w", queueErr))
		span.SetStatus(codes.Error, result.Err.Error())
		a.logger.ErrorContext(ctx, "ticket could not be delivered or queued", "call_id", a.callID.String(), "error", result.Err)
		return result
	}

	result.FallbackEntryID = entry.ID
	a.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "queued")))
	a.logger.WarnContext(ctx, "ticket queued for replay", "call_id", a.callID.String(), "entry_id", entry.ID, "reason", reason)
	a.emit(events.NewTicketQueued(a.callID, entry.ID, ticket.Resolution, reason))
	return result
}

// statePath lists the states the call went through, in order.
func (a *ticketAssembler) statePath() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.transitions) == 0 {
		return nil
	}
	path := []string{a.transitions[0].From.String()}
	for _, transition := range a.transitions {
		path = append(path, transition.To.String())
	}
	return path
}

// callerText joins everything the caller said.
func callerText(transcript []calls.Utterance) string {
	var parts []string
	for _, utterance := range transcript {
		if utterance.Speaker == calls.SpeakerCaller {
			parts = append(parts, utterance.Text)
		}
	}
	return strings.Join(parts, " ")
}
