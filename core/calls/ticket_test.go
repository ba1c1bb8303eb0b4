package calls

import "testing"

func TestResolveOutcome(t *testing.T) {
	testCases := []struct {
		name     string
		attempts []AnswerAttempt
		cause    TerminationCause
		expected Resolution
	}{
		{name: "answered after unresolved", attempts: []AnswerAttempt{{Outcome: OutcomeUnresolved}, {Outcome: OutcomeAnswered}}, cause: CauseResolved, expected: ResolutionAnswered},
		{name: "answered wins over silence", attempts: []AnswerAttempt{{Outcome: OutcomeAnswered}}, cause: CauseCallerSilent, expected: ResolutionAnswered},
		{name: "silent without attempts", cause: CauseCallerSilent, expected: ResolutionAbandoned},
		{name: "unresolved twice", attempts: []AnswerAttempt{{Outcome: OutcomeUnresolved}, {Outcome: OutcomeUnresolved}}, cause: CauseEscalated, expected: ResolutionEscalated},
		{name: "gate errors", attempts: []AnswerAttempt{{Outcome: OutcomeGateError}}, cause: CauseEscalated, expected: ResolutionEscalated},
		{name: "hangup before any lookup", cause: CauseHangup, expected: ResolutionEscalated},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := ResolveOutcome(testCase.attempts, testCase.cause); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestLastAnsweredPicksMostRecent(t *testing.T) {
	attempts := []AnswerAttempt{
		{Number: 1, Outcome: OutcomeAnswered},
		{Number: 2, Outcome: OutcomeUnresolved},
		{Number: 3, Outcome: OutcomeAnswered},
	}

	attempt, ok := LastAnswered(attempts)
	if !ok {
		t.Fatalf("expected an answered attempt")
	}
	if attempt.Number != 3 {
		t.Fatalf("expected attempt 3, got %d", attempt.Number)
	}

	if _, ok := LastAnswered(attempts[1:2]); ok {
		t.Fatalf("expected no answered attempt")
	}
}

func TestStateTerminal(t *testing.T) {
	for state := StateGreeting; state < StateClosed; state++ {
		if state.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", state)
		}
	}
	if !StateClosed.IsTerminal() {
		t.Fatalf("expected closed to be terminal")
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	for state := StateGreeting; state <= StateClosed; state++ {
		text, _ := state.MarshalText()
		var parsed State
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("failed to parse %q: %v", text, err)
		}
		if parsed != state {
			t.Fatalf("expected %s, got %s", state, parsed)
		}
	}

	var parsed State
	if err := parsed.UnmarshalText([]byte("ringing")); err == nil {
		t.Fatalf("expected unknown state to be rejected")
	}
}
