package orchestration

import (
	"testing"

	"github.com/koscakluka/ema-support/core/calls"
)

func TestTransitionTable(t *testing.T) {
	testCases := []struct {
		from     calls.State
		trigger  trigger
		expected calls.State
	}{
		{calls.StateGreeting, triggerSpeechCompleted, calls.StateListening},
		{calls.StateGreeting, triggerInterrupt, calls.StateListening},
		{calls.StateListening, triggerTurnComplete, calls.StateSearching},
		{calls.StateListening, triggerCallerSilent, calls.StateEscalating},
		{calls.StateSearching, triggerAnswered, calls.StateResponding},
		{calls.StateSearching, triggerUnresolved, calls.StateListening},
		{calls.StateSearching, triggerAttemptsExhausted, calls.StateEscalating},
		{calls.StateResponding, triggerInterrupt, calls.StateListening},
		{calls.StateResponding, triggerSpeechCompleted, calls.StateClosing},
		{calls.StateEscalating, triggerSpeechCompleted, calls.StateClosing},
		{calls.StateClosing, triggerSpeechCompleted, calls.StateClosed},
		{calls.StateSearching, triggerHangup, calls.StateClosing},
		{calls.StateClosing, triggerHangup, calls.StateClosed},
		{calls.StateListening, triggerIdleCeiling, calls.StateEscalating},
		{calls.StateEscalating, triggerIdleCeiling, calls.StateClosing},
	}

	for _, testCase := range testCases {
		to, ok := nextState(testCase.from, testCase.trigger)
		if !ok {
			t.Fatalf("expected a transition from %s on %s", testCase.from, testCase.trigger)
		}
		if to != testCase.expected {
			t.Fatalf("from %s on %s: expected %s, got %s", testCase.from, testCase.trigger, testCase.expected, to)
		}
	}
}

func TestUnlistedTriggersAreIgnored(t *testing.T) {
	testCases := []struct {
		from    calls.State
		trigger trigger
	}{
		{calls.StateGreeting, triggerTurnComplete},
		{calls.StateSearching, triggerInterrupt},
		{calls.StateEscalating, triggerInterrupt},
		{calls.StateResponding, triggerAnswered},
		{calls.StateClosing, triggerInterrupt},
	}

	for _, testCase := range testCases {
		if to, ok := nextState(testCase.from, testCase.trigger); ok {
			t.Fatalf("expected no transition from %s on %s, got %s", testCase.from, testCase.trigger, to)
		}
	}
}

func TestForcedTriggersReachClosedFromEveryLiveState(t *testing.T) {
	for _, forced := range []trigger{triggerHangup, triggerShutdown, triggerInternalFailure, triggerIdleCeiling} {
		for state := calls.StateGreeting; state < calls.StateClosed; state++ {
			current := state
			for steps := 0; !current.IsTerminal(); steps++ {
				if steps > 3 {
					t.Fatalf("%s from %s does not reach closed", forced, state)
				}
				next, ok := nextState(current, forced)
				if !ok {
					t.Fatalf("expected %s to move %s", forced, current)
				}
				current = next
			}
		}
	}
}

func TestClosedHasNoOutgoingTransitions(t *testing.T) {
	triggers := []trigger{
		triggerSpeechCompleted, triggerTurnComplete, triggerEmailCaptured, triggerAnswered,
		triggerUnresolved, triggerAttemptsExhausted, triggerInterrupt, triggerCallerSilent,
		triggerHangup, triggerIdleCeiling, triggerShutdown, triggerInternalFailure,
	}
	for _, t2 := range triggers {
		if _, ok := nextState(calls.StateClosed, t2); ok {
			t.Fatalf("expected closed to ignore %s", t2)
		}
	}
}
