package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const gateCandidateLimit = 3

// SessionContext is the part of a session the answer gate may read.
type SessionContext struct {
	CallID calls.CallID
	// PriorTurns holds earlier caller turns, oldest first.
	PriorTurns    []string
	AttemptNumber int
}

// answerGate classifies knowledge base results for a caller query. It keeps
// no per-call state; the session records the attempts it returns.
type answerGate struct {
	searcher    knowledgebase.Searcher
	threshold   float64
	timeout     time.Duration
	maxAttempts int
	policy      retry.Policy
	now         func() time.Time

	lookups metric.Int64Counter
	scores  metric.Float64Histogram
}

func newAnswerGate(searcher knowledgebase.Searcher, config Config) *answerGate {
	gate := &answerGate{
		searcher:    searcher,
		threshold:   config.KBRelevanceThreshold,
		timeout:     config.KBTimeout,
		maxAttempts: max(config.MaxKBAttempts, 1),
		policy:      config.GateRetry,
		now:         time.Now,
	}
	gate.lookups, _ = meter.Int64Counter("answer_gate.lookups",
		metric.WithDescription("Knowledge base lookups by outcome"))
	gate.scores, _ = meter.Float64Histogram("answer_gate.top_score",
		metric.WithDescription("Relevance score of the best candidate"))
	return gate
}

// MaxAttempts is the number of lookups a single call may make.
func (g *answerGate) MaxAttempts() int { return g.maxAttempts }

// Lookup searches the knowledge base for query. Failures and timeouts are
// retried according to the gate's policy and end as a gate_error attempt;
// Lookup itself never fails.
func (g *answerGate) Lookup(ctx context.Context, query string, sessionContext SessionContext) (attempt calls.AnswerAttempt) {
	ctx, span := tracer.Start(ctx, "answer gate lookup")
	defer span.End()

	attempt = calls.AnswerAttempt{
		Number:    sessionContext.AttemptNumber,
		Query:     query,
		StartedAt: g.now(),
	}
	defer func() {
		attempt.Duration = g.now().Sub(attempt.StartedAt)
		span.SetAttributes(
			attribute.String("call.id", sessionContext.CallID.String()),
			attribute.Int("answer_gate.attempt", attempt.Number),
			attribute.String("answer_gate.outcome", string(attempt.Outcome)),
			attribute.Float64("answer_gate.score", attempt.Score),
		)
		g.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(attempt.Outcome))))
	}()

	candidates, err := g.search(ctx, knowledgebase.Query{
		Text:    query,
		Context: sessionContext.PriorTurns,
		Limit:   gateCandidateLimit,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attempt.Outcome = calls.OutcomeGateError
		attempt.Error = err.Error()
		return attempt
	}

	if len(candidates) == 0 {
		attempt.Outcome = calls.OutcomeUnresolved
		return attempt
	}

	top := knowledgebase.Rank(candidates)[0]
	g.scores.Record(ctx, top.Score)
	attempt.Score = top.Score
	attempt.Match = &calls.Match{ArticleID: top.ArticleID, Title: top.Title, Snippet: top.Snippet}
	if top.Score >= g.threshold {
		attempt.Outcome = calls.OutcomeAnswered
	} else {
		attempt.Outcome = calls.OutcomeUnresolved
	}
	return attempt
}

func (g *answerGate) search(ctx context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error) {
	if g.searcher == nil {
		return nil, errNoKnowledgeBase
	}

	var candidates []knowledgebase.Candidate
	err := g.policy.Do(ctx, func(ctx context.Context, try int) error {
		tryCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		found, err := g.searchOnce(tryCtx, query)
		if err != nil {
			if errors.Is(tryCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%w after %s: %w", ErrGateTimeout, g.timeout, err)
			}
			logger.DebugContext(ctx, "knowledge base search failed", "try", try, "error", err)
			return err
		}
		candidates = found
		return nil
	}, func(error) bool { return ctx.Err() == nil })
	return candidates, err
}

type searchResult struct {
	candidates []knowledgebase.Candidate
	err        error
}

// searchOnce returns as soon as ctx is done, even if the searcher does not
// honor cancellation.
func (g *answerGate) searchOnce(ctx context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error) {
	done := make(chan searchResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- searchResult{err: fmt.Errorf("knowledge base search panicked: %v", recovered)}
			}
		}()
		candidates, err := g.searcher.Search(ctx, query)
		done <- searchResult{candidates: candidates, err: err}
	}()

	select {
	case result := <-done:
		return result.candidates, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
