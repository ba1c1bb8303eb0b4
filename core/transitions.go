package orchestration

import (
	"fmt"

	"github.com/koscakluka/ema-support/core/calls"
)

type trigger string

const (
	triggerSpeechCompleted   trigger = "speech_completed"
	triggerTurnComplete      trigger = "turn_complete"
	triggerEmailCaptured     trigger = "email_captured"
	triggerAnswered          trigger = "answered"
	triggerUnresolved        trigger = "unresolved"
	triggerAttemptsExhausted trigger = "attempts_exhausted"
	triggerInterrupt         trigger = "interrupt"
	triggerCallerSilent      trigger = "caller_silent_timeout"
	triggerHangup            trigger = "hangup"
	triggerIdleCeiling       trigger = "idle_ceiling"
	triggerShutdown          trigger = "shutdown"
	triggerInternalFailure   trigger = "internal_failure"
)

type transitionKey struct {
	from    calls.State
	trigger trigger
}

// transitions lists every move a session can make. Anything missing from the
// table is ignored by the session.
var transitions = map[transitionKey]calls.State{
	{calls.StateGreeting, triggerSpeechCompleted}: calls.StateListening,
	// The caller talking over the greeting skips the rest of it.
	{calls.StateGreeting, triggerInterrupt}: calls.StateListening,

	{calls.StateListening, triggerTurnComplete}: calls.StateSearching,
	// A turn that only gave us the caller's email is acknowledged, not
	// searched.
	{calls.StateListening, triggerEmailCaptured}:   calls.StateListening,
	{calls.StateListening, triggerSpeechCompleted}: calls.StateListening,
	{calls.StateListening, triggerInterrupt}:       calls.StateListening,
	{calls.StateListening, triggerCallerSilent}:    calls.StateEscalating,

	{calls.StateSearching, triggerAnswered}:          calls.StateResponding,
	{calls.StateSearching, triggerUnresolved}:        calls.StateListening,
	{calls.StateSearching, triggerAttemptsExhausted}: calls.StateEscalating,

	{calls.StateResponding, triggerInterrupt}:       calls.StateListening,
	{calls.StateResponding, triggerSpeechCompleted}: calls.StateClosing,

	{calls.StateEscalating, triggerSpeechCompleted}: calls.StateClosing,

	{calls.StateClosing, triggerSpeechCompleted}: calls.StateClosed,
}

func init() {
	for state := calls.StateGreeting; state < calls.StateClosed; state++ {
		// Termination reaches Closed from every live state.
		if state == calls.StateClosing {
			transitions[transitionKey{state, triggerHangup}] = calls.StateClosed
			transitions[transitionKey{state, triggerShutdown}] = calls.StateClosed
			transitions[transitionKey{state, triggerInternalFailure}] = calls.StateClosed
			transitions[transitionKey{state, triggerIdleCeiling}] = calls.StateClosed
			continue
		}
		transitions[transitionKey{state, triggerHangup}] = calls.StateClosing
		transitions[transitionKey{state, triggerShutdown}] = calls.StateClosing
		transitions[transitionKey{state, triggerInternalFailure}] = calls.StateClosing

		// Idle sessions are escalated first so the ticket routes to a human.
		if state == calls.StateEscalating {
			transitions[transitionKey{state, triggerIdleCeiling}] = calls.StateClosing
		} else {
			transitions[transitionKey{state, triggerIdleCeiling}] = calls.StateEscalating
		}
	}
}

// nextState looks up the transition for trigger. Closed has no way out.
func nextState(from calls.State, t trigger) (calls.State, bool) {
	if from.IsTerminal() {
		return from, false
	}
	to, ok := transitions[transitionKey{from, t}]
	return to, ok
}

type transitionError struct {
	from    calls.State
	trigger trigger
}

func (e transitionError) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.from, e.trigger)
}
