package orchestration

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/knowledgebase"
)

func TestLookupAnswersAboveThreshold(t *testing.T) {
	gate := newAnswerGate(searcherFunc(func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		return []knowledgebase.Candidate{
			{ArticleID: "kb-7", Snippet: "Close match", Score: 0.5},
			{ArticleID: "kb-101", Snippet: "Reset it from the sign in page.", Score: 0.9},
		}, nil
	}), testConfig())

	attempt := gate.Lookup(context.Background(), "I forgot my password", SessionContext{CallID: "CA1", AttemptNumber: 1})

	if attempt.Outcome != calls.OutcomeAnswered {
		t.Fatalf("expected answered, got %q", attempt.Outcome)
	}
	if attempt.Match == nil || attempt.Match.ArticleID != "kb-101" {
		t.Fatalf("expected the best candidate to be matched, got %+v", attempt.Match)
	}
	if attempt.Score != 0.9 {
		t.Fatalf("expected score 0.9, got %v", attempt.Score)
	}
	if attempt.Number != 1 || attempt.Query != "I forgot my password" {
		t.Fatalf("unexpected attempt bookkeeping %+v", attempt)
	}
}

func TestLookupThresholdIsInclusive(t *testing.T) {
	config := testConfig()
	gate := newAnswerGate(scoredSearcher("kb-1", "snippet", config.KBRelevanceThreshold), config)

	attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1})
	if attempt.Outcome != calls.OutcomeAnswered {
		t.Fatalf("expected a score equal to the threshold to answer, got %q", attempt.Outcome)
	}
}

func TestLookupUnresolvedBelowThresholdOrEmpty(t *testing.T) {
	testCases := []struct {
		name     string
		searcher searcherFunc
	}{
		{name: "low score", searcher: scoredSearcher("kb-9", "API keys", 0.2)},
		{name: "no candidates", searcher: func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
			return nil, nil
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gate := newAnswerGate(testCase.searcher, testConfig())
			attempt := gate.Lookup(context.Background(), "API integration", SessionContext{AttemptNumber: 1})
			if attempt.Outcome != calls.OutcomeUnresolved {
				t.Fatalf("expected unresolved, got %q", attempt.Outcome)
			}
			if attempt.Error != "" {
				t.Fatalf("expected no error, got %q", attempt.Error)
			}
		})
	}
}

func TestLookupRetriesThenReportsGateError(t *testing.T) {
	var tries atomic.Int32
	gate := newAnswerGate(searcherFunc(func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		tries.Add(1)
		return nil, errors.New("connection refused")
	}), testConfig())

	attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1})

	if attempt.Outcome != calls.OutcomeGateError {
		t.Fatalf("expected gate_error, got %q", attempt.Outcome)
	}
	if !strings.Contains(attempt.Error, "connection refused") {
		t.Fatalf("expected the failure to be recorded, got %q", attempt.Error)
	}
	if got := tries.Load(); got != 2 {
		t.Fatalf("expected one retry, got %d tries", got)
	}
}

func TestLookupRecoversAfterTransientFailure(t *testing.T) {
	var tries atomic.Int32
	gate := newAnswerGate(searcherFunc(func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		if tries.Add(1) == 1 {
			return nil, errors.New("temporary")
		}
		return []knowledgebase.Candidate{{ArticleID: "kb-2", Score: 0.8}}, nil
	}), testConfig())

	if attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1}); attempt.Outcome != calls.OutcomeAnswered {
		t.Fatalf("expected the retry to answer, got %q", attempt.Outcome)
	}
}

func TestLookupTimesOutSlowSearcher(t *testing.T) {
	config := testConfig()
	config.KBTimeout = 20 * time.Millisecond
	block := make(chan struct{})
	defer close(block)

	gate := newAnswerGate(searcherFunc(func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		<-block
		return nil, nil
	}), config)

	start := time.Now()
	attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1})

	if attempt.Outcome != calls.OutcomeGateError {
		t.Fatalf("expected gate_error, got %q", attempt.Outcome)
	}
	if !strings.Contains(attempt.Error, ErrGateTimeout.Error()) {
		t.Fatalf("expected a timeout error, got %q", attempt.Error)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected lookup to give up quickly, took %s", elapsed)
	}
}

func TestLookupTurnsSearcherPanicIntoGateError(t *testing.T) {
	gate := newAnswerGate(searcherFunc(func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		panic("index corrupted")
	}), testConfig())

	attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1})
	if attempt.Outcome != calls.OutcomeGateError {
		t.Fatalf("expected gate_error, got %q", attempt.Outcome)
	}
}

func TestLookupWithoutKnowledgeBase(t *testing.T) {
	gate := newAnswerGate(nil, testConfig())

	attempt := gate.Lookup(context.Background(), "query", SessionContext{AttemptNumber: 1})
	if attempt.Outcome != calls.OutcomeGateError {
		t.Fatalf("expected gate_error, got %q", attempt.Outcome)
	}
}

func TestLookupPassesPriorTurns(t *testing.T) {
	var received knowledgebase.Query
	gate := newAnswerGate(searcherFunc(func(_ context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		received = query
		return nil, nil
	}), testConfig())

	gate.Lookup(context.Background(), "it still fails", SessionContext{PriorTurns: []string{"my login fails"}, AttemptNumber: 2})

	if received.Text != "it still fails" {
		t.Fatalf("unexpected query text %q", received.Text)
	}
	if !slices.Equal(received.Context, []string{"my login fails"}) {
		t.Fatalf("expected prior turns as context, got %v", received.Context)
	}
	if received.Limit <= 0 {
		t.Fatalf("expected a candidate limit, got %d", received.Limit)
	}
}
