package events

import "github.com/koscakluka/ema-support/core/calls"

const (
	// KindCallerSpeechStarted identifies the start of a caller utterance.
	KindCallerSpeechStarted Kind = "caller_input.speech_started"
	// KindUtteranceInterimUpdated identifies mutable interim hypotheses.
	KindUtteranceInterimUpdated Kind = "caller_input.utterance_interim_updated"
	// KindUtteranceFinalized identifies finalized caller utterances.
	KindUtteranceFinalized Kind = "caller_input.utterance_finalized"
	// KindLowConfidenceDiscarded identifies dropped low confidence fragments.
	KindLowConfidenceDiscarded Kind = "caller_input.low_confidence_discarded"
)

// CallerSpeechStarted marks the first fragment of a new caller utterance.
type CallerSpeechStarted struct{ Base }

// NewCallerSpeechStarted creates a caller speech started event.
func NewCallerSpeechStarted(callID calls.CallID) CallerSpeechStarted {
	return CallerSpeechStarted{Base: NewBase(KindCallerSpeechStarted, callID)}
}

// UtteranceInterimUpdated carries the current hypothesis of the utterance in
// progress.
type UtteranceInterimUpdated struct {
	Base
	Text string
}

// NewUtteranceInterimUpdated creates an interim hypothesis event.
func NewUtteranceInterimUpdated(callID calls.CallID, text string) UtteranceInterimUpdated {
	return UtteranceInterimUpdated{Base: NewBase(KindUtteranceInterimUpdated, callID), Text: text}
}

// UtteranceFinalized carries a caller utterance appended to the transcript.
type UtteranceFinalized struct {
	Base
	Utterance calls.Utterance
}

// NewUtteranceFinalized creates a finalized utterance event.
func NewUtteranceFinalized(callID calls.CallID, utterance calls.Utterance) UtteranceFinalized {
	return UtteranceFinalized{Base: NewBase(KindUtteranceFinalized, callID), Utterance: utterance}
}

// LowConfidenceDiscarded carries a fragment that was dropped.
type LowConfidenceDiscarded struct {
	Base
	Text       string
	Confidence float64
}

// NewLowConfidenceDiscarded creates a low confidence discard event.
func NewLowConfidenceDiscarded(callID calls.CallID, text string, confidence float64) LowConfidenceDiscarded {
	return LowConfidenceDiscarded{Base: NewBase(KindLowConfidenceDiscarded, callID), Text: text, Confidence: confidence}
}
