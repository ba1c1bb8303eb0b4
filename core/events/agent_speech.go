package events

import "github.com/koscakluka/ema-support/core/calls"

const (
	// KindAgentSpeechStarted identifies the start of a synthesis.
	KindAgentSpeechStarted Kind = "agent_speech.started"
	// KindAgentSpeechCompleted identifies full delivery of a synthesis.
	KindAgentSpeechCompleted Kind = "agent_speech.completed"
	// KindAgentSpeechInterrupted identifies a cancelled synthesis.
	KindAgentSpeechInterrupted Kind = "agent_speech.interrupted"
)

// AgentSpeechStarted marks the start of a synthesis.
type AgentSpeechStarted struct {
	Base
	SpeechID string
	Text     string
}

// NewAgentSpeechStarted creates a speech started event.
func NewAgentSpeechStarted(callID calls.CallID, speechID, text string) AgentSpeechStarted {
	return AgentSpeechStarted{Base: NewBase(KindAgentSpeechStarted, callID), SpeechID: speechID, Text: text}
}

// AgentSpeechCompleted marks that the whole text was played to the caller.
type AgentSpeechCompleted struct {
	Base
	SpeechID string
	Text     string
}

// NewAgentSpeechCompleted creates a speech completed event.
func NewAgentSpeechCompleted(callID calls.CallID, speechID, text string) AgentSpeechCompleted {
	return AgentSpeechCompleted{Base: NewBase(KindAgentSpeechCompleted, callID), SpeechID: speechID, Text: text}
}

// AgentSpeechInterrupted marks a cancelled synthesis. SpokenText holds the
// part confirmed as played before the cancel.
type AgentSpeechInterrupted struct {
	Base
	SpeechID   string
	SpokenText string
}

// NewAgentSpeechInterrupted creates a speech interrupted event.
func NewAgentSpeechInterrupted(callID calls.CallID, speechID, spokenText string) AgentSpeechInterrupted {
	return AgentSpeechInterrupted{Base: NewBase(KindAgentSpeechInterrupted, callID), SpeechID: speechID, SpokenText: spokenText}
}
