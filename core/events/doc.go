// Package events defines the typed call-flow event contract emitted by the
// call session orchestrator.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - call_transport.*
//   - caller_input.*
//   - turn_control.*
//   - answer_gate.*
//   - agent_speech.*
//   - session_state.*
//   - ticket.*
//
// Every event carries the call it belongs to. Events of one call are emitted
// in the order the session processed them; events of different calls have no
// ordering relationship.
//
// call_transport events
//
//   - CallStarted (call_transport.started): the transport connected a call.
//   - CallHungUp (call_transport.hung_up): the transport reported the caller
//     hung up or the stream stopped.
//
// caller_input events
//
//   - CallerSpeechStarted (caller_input.speech_started): first fragment of a
//     new caller utterance arrived.
//   - UtteranceInterimUpdated (caller_input.utterance_interim_updated):
//     mutable hypothesis of the utterance in progress. Never persisted.
//   - UtteranceFinalized (caller_input.utterance_finalized): immutable caller
//     utterance appended to the transcript.
//   - LowConfidenceDiscarded (caller_input.low_confidence_discarded): a
//     fragment was dropped for falling below the confidence floor.
//
// turn_control events
//
//   - TurnCompleted (turn_control.turn_completed): the caller finished a turn.
//   - Interrupted (turn_control.interrupted): the caller barged in while the
//     agent was speaking.
//   - CallerSilentTimeout (turn_control.caller_silent_timeout): the caller
//     stayed silent past the abandonment threshold.
//
// answer_gate events
//
//   - AnswerAttemptRecorded (answer_gate.attempt_recorded): a knowledge base
//     lookup finished with answered, unresolved or gate_error.
//
// agent_speech events
//
//   - AgentSpeechStarted (agent_speech.started): a synthesis began.
//   - AgentSpeechCompleted (agent_speech.completed): the full text was played.
//   - AgentSpeechInterrupted (agent_speech.interrupted): playback was cancelled;
//     carries only the text actually played.
//
// session_state events
//
//   - StateChanged (session_state.changed): the session moved between states.
//
// ticket events
//
//   - TicketSubmitted (ticket.submitted): the ticketing system accepted the
//     ticket.
//   - TicketQueued (ticket.queued): submission was exhausted and the payload
//     was persisted for replay.
package events
