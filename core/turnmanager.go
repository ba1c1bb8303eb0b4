package orchestration

import (
	"strings"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
)

type turnSignalKind int

const (
	turnSignalNone turnSignalKind = iota
	turnSignalComplete
	turnSignalCallerSilent
)

type Turn struct {
	Utterances []calls.Utterance
	Text       string
}

type turnSignal struct {
	kind turnSignalKind
	turn Turn
}

// turnManager decides where caller turns end. It does no timing of its own;
// the session worker feeds it the current time.
type turnManager struct {
	silenceThreshold   time.Duration
	abandonmentTimeout time.Duration

	pending      []calls.Utterance
	lastCallerAt time.Time
	callerActive bool
	semanticEnd  bool

	armed    bool
	heardAt  time.Time
	resolved bool
}

func newTurnManager(silenceThreshold, abandonmentTimeout time.Duration) *turnManager {
	return &turnManager{
		silenceThreshold:   silenceThreshold,
		abandonmentTimeout: abandonmentTimeout,
	}
}

// Observe adds a finalized caller utterance to the open turn.
func (m *turnManager) Observe(utterance calls.Utterance, now time.Time) {
	m.pending = append(m.pending, utterance)
	m.lastCallerAt = now
	m.heardAt = now
	m.callerActive = false
}

// CallerBegan records the start of caller speech and reports whether it
// interrupts the agent.
func (m *turnManager) CallerBegan(now time.Time, agentSpeaking bool) (interrupt bool) {
	m.callerActive = true
	m.heardAt = now
	return agentSpeaking
}

// Heard refreshes the time caller speech was last detected.
func (m *turnManager) Heard(now time.Time) { m.heardAt = now }

// CallerStopped clears an utterance start that never produced usable text.
func (m *turnManager) CallerStopped(now time.Time) {
	m.callerActive = false
	m.heardAt = now
}

// SemanticEnd ends the open turn without waiting for the silence threshold.
func (m *turnManager) SemanticEnd() {
	if len(m.pending) > 0 {
		m.semanticEnd = true
	}
}

// Arm starts the abandonment clock.
func (m *turnManager) Arm(now time.Time) {
	m.armed = true
	m.heardAt = now
}

func (m *turnManager) Disarm() { m.armed = false }

// MarkResolved suppresses the abandonment signal for the rest of the call.
func (m *turnManager) MarkResolved() { m.resolved = true }

func (m *turnManager) Poll(now time.Time) turnSignal {
	// An utterance start that produced nothing for this long is stale.
	if m.callerActive && now.Sub(m.heardAt) >= m.abandonmentTimeout {
		m.callerActive = false
	}

	if len(m.pending) > 0 {
		silentFor := now.Sub(m.lastCallerAt)
		if m.semanticEnd || (!m.callerActive && silentFor >= m.silenceThreshold) {
			return turnSignal{kind: turnSignalComplete, turn: m.takeTurn()}
		}
		return turnSignal{}
	}

	if m.armed && !m.resolved && !m.callerActive && now.Sub(m.heardAt) >= m.abandonmentTimeout {
		m.armed = false
		return turnSignal{kind: turnSignalCallerSilent}
	}
	return turnSignal{}
}

func (m *turnManager) takeTurn() Turn {
	texts := make([]string, 0, len(m.pending))
	for _, utterance := range m.pending {
		texts = append(texts, utterance.Text)
	}
	turn := Turn{Utterances: m.pending, Text: strings.Join(texts, " ")}
	m.pending = nil
	m.semanticEnd = false
	return turn
}
