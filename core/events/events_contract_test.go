package events

import (
	"testing"

	"github.com/koscakluka/ema-support/core/calls"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	const callID = calls.CallID("CA123")

	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "call started", event: NewCallStarted(callID, "MZ1", "+15550100"), expected: KindCallStarted},
		{name: "call hung up", event: NewCallHungUp(callID), expected: KindCallHungUp},
		{name: "caller speech started", event: NewCallerSpeechStarted(callID), expected: KindCallerSpeechStarted},
		{name: "utterance interim updated", event: NewUtteranceInterimUpdated(callID, "hel"), expected: KindUtteranceInterimUpdated},
		{name: "utterance finalized", event: NewUtteranceFinalized(callID, calls.Utterance{Text: "hello"}), expected: KindUtteranceFinalized},
		{name: "low confidence discarded", event: NewLowConfidenceDiscarded(callID, "mm", 0.1), expected: KindLowConfidenceDiscarded},
		{name: "turn completed", event: NewTurnCompleted(callID, "hello", nil), expected: KindTurnCompleted},
		{name: "interrupted", event: NewInterrupted(callID), expected: KindInterrupted},
		{name: "caller silent timeout", event: NewCallerSilentTimeout(callID), expected: KindCallerSilentTimeout},
		{name: "answer attempt recorded", event: NewAnswerAttemptRecorded(callID, calls.AnswerAttempt{}), expected: KindAnswerAttemptRecorded},
		{name: "agent speech started", event: NewAgentSpeechStarted(callID, "s1", "hi"), expected: KindAgentSpeechStarted},
		{name: "agent speech completed", event: NewAgentSpeechCompleted(callID, "s1", "hi"), expected: KindAgentSpeechCompleted},
		{name: "agent speech interrupted", event: NewAgentSpeechInterrupted(callID, "s1", "h"), expected: KindAgentSpeechInterrupted},
		{name: "state changed", event: NewStateChanged(callID, calls.StateGreeting, calls.StateListening, "synthesis_complete"), expected: KindStateChanged},
		{name: "ticket submitted", event: NewTicketSubmitted(callID, "42", calls.ResolutionAnswered), expected: KindTicketSubmitted},
		{name: "ticket queued", event: NewTicketQueued(callID, "e1", calls.ResolutionEscalated, "unavailable"), expected: KindTicketQueued},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if got := testCase.event.CallID(); got != callID {
				t.Fatalf("expected call id %q, got %q", callID, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}

func TestSpeechCompletedAndInterruptedKindsAreDistinct(t *testing.T) {
	completed := NewAgentSpeechCompleted("CA1", "s1", "hi")
	interrupted := NewAgentSpeechInterrupted("CA1", "s1", "h")

	if completed.Kind() == interrupted.Kind() {
		t.Fatalf("expected completed and interrupted kinds to differ, both were %q", completed.Kind())
	}
}
