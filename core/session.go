package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/speechtotext"
	"go.opentelemetry.io/otel/metric"
)

// Session runs one call. All call state is owned by a single worker
// goroutine that handles the session's messages in arrival order; the
// exported methods only post messages or read published snapshots.
type Session struct {
	id        calls.CallID
	channel   string
	createdAt time.Time
	config    Config
	logger    *slog.Logger
	emit      eventEmitter

	baseCtx context.Context
	ctx     context.Context
	cancel  context.CancelFunc

	mailbox    *mailbox
	normalizer *normalizer
	turns      *turnManager
	gate       *answerGate
	synth      *synthesizer
	assembler  *ticketAssembler
	summarizer Summarizer
	stt        atomic.Pointer[speechToTextHolder]

	// Owned by the worker.
	data                  calls.CallSession
	dirty                 bool
	speech                *SpeechHandle
	pendingQuery          string
	priorTurns            []string
	consecutiveGateErrors int
	escalationCause       calls.TerminationCause
	closingCause          calls.TerminationCause
	ticket                calls.Ticket

	snapshot     atomic.Pointer[calls.CallSession]
	lastActivity atomic.Int64
	result       atomic.Pointer[SubmitResult]
	started      atomic.Bool
	done         chan struct{}
	onDone       func(*Session)

	discarded metric.Int64Counter
}

type speechToTextHolder struct{ client SpeechToText }

func newSession(ctx context.Context, o *Orchestrator, info CallInfo, sink AudioSink) *Session {
	now := time.Now()
	baseCtx := context.WithoutCancel(ctx)
	sessionCtx, cancel := context.WithCancel(baseCtx)
	logger := o.logger.With("call_id", info.CallID.String())

	s := &Session{
		id:         info.CallID,
		channel:    info.Channel,
		createdAt:  now,
		config:     o.config,
		logger:     logger,
		emit:       o.emit,
		baseCtx:    baseCtx,
		ctx:        sessionCtx,
		cancel:     cancel,
		mailbox:    newMailbox(),
		normalizer: newNormalizer(o.config.MinTranscriptConfidence, o.config.JitterWindow),
		turns:      newTurnManager(o.config.SilenceThreshold, o.config.AbandonmentTimeout),
		gate:       o.gate,
		summarizer: o.summarizer,
		done:       make(chan struct{}),
		onDone:     func(*Session) {},
		data: calls.CallSession{
			ID:             info.CallID,
			Channel:        info.Channel,
			State:          calls.StateGreeting,
			CreatedAt:      now,
			LastActivityAt: now,
		},
	}
	if info.PhoneNumber != "" {
		phone := info.PhoneNumber
		s.data.Profile.PhoneNumber = &phone
	}

	s.synth = newSynthesizer(info.CallID, o.textToSpeech, sink, o.config, o.emit, logger)
	s.synth.onFinished = func(handle *SpeechHandle) {
		s.mailbox.Post(speechFinishedMessage{handle: handle})
	}
	s.assembler = newTicketAssembler(info.CallID, now, o)
	s.assembler.SetProfile(s.data.Profile)
	s.discarded, _ = meter.Int64Counter("normalizer.low_confidence_discarded",
		metric.WithDescription("Transcript fragments dropped for low confidence"))

	s.lastActivity.Store(now.UnixNano())
	s.publishSnapshot()
	return s
}

func (s *Session) ID() calls.CallID { return s.id }

// Snapshot returns a copy of the call as of the last handled message.
func (s *Session) Snapshot() calls.CallSession {
	var snapshot calls.CallSession
	if published := s.snapshot.Load(); published != nil {
		_ = copier.CopyWithOption(&snapshot, published, copier.Option{DeepCopy: true})
	}
	return snapshot
}

func (s *Session) State() calls.State {
	if published := s.snapshot.Load(); published != nil {
		return published.State
	}
	return calls.StateGreeting
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed once the session is closed and its ticket was handed off.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns where the call's ticket went. ok is false until Done.
func (s *Session) Result() (result SubmitResult, ok bool) {
	if stored := s.result.Load(); stored != nil {
		return *stored, true
	}
	return SubmitResult{}, false
}

// Wait blocks until the session is done or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushFragment hands a recognition fragment to the session. It never blocks
// and fails with ErrSessionClosed once the session stopped taking input.
func (s *Session) PushFragment(fragment speechtotext.Fragment) error {
	return s.post(fragmentMessage{fragment: fragment, receivedAt: time.Now()})
}

// CallerSpeechStarted records voice activity reported by the recognizer.
func (s *Session) CallerSpeechStarted() {
	s.mailbox.Post(callerSpeechStartedMessage{at: time.Now()})
}

// CallerSpeechEnded records the recognizer's end of speech signal.
func (s *Session) CallerSpeechEnded() {
	s.mailbox.Post(callerSpeechEndedMessage{at: time.Now()})
}

// Closed reports whether the session stopped taking input. Its ticket may
// still be in flight until Done.
func (s *Session) Closed() bool { return s.mailbox.Closed() }

func (s *Session) post(msg message) error {
	if !s.mailbox.Post(msg) {
		return ErrSessionClosed
	}
	return nil
}

// Hangup reports that the transport lost the caller.
func (s *Session) Hangup() { s.mailbox.Post(terminateMessage{trigger: triggerHangup}) }

// Terminate forces the session closed. Repeated or concurrent calls end in a
// single close and a single ticket.
func (s *Session) Terminate(cause calls.TerminationCause) {
	s.mailbox.Post(terminateMessage{trigger: terminationTrigger(cause)})
}

func terminationTrigger(cause calls.TerminationCause) trigger {
	switch cause {
	case calls.CauseHangup:
		return triggerHangup
	case calls.CauseIdleCeiling:
		return triggerIdleCeiling
	case calls.CauseInternalFailure:
		return triggerInternalFailure
	default:
		return triggerShutdown
	}
}

func (s *Session) attachSpeechToText(client SpeechToText) {
	s.stt.Store(&speechToTextHolder{client: client})
}

func (s *Session) speechToText() SpeechToText {
	if holder := s.stt.Load(); holder != nil {
		return holder.client
	}
	return nil
}

func (s *Session) start() {
	if s.started.Swap(true) {
		return
	}
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.safely(s.greet)
	s.publishSnapshot()
	for !s.data.State.IsTerminal() {
		select {
		case <-s.mailbox.Signal():
			for _, msg := range s.mailbox.Drain() {
				if s.data.State.IsTerminal() {
					break
				}
				s.safely(func() { s.handle(msg) })
			}
		case now := <-ticker.C:
			s.safely(func() { s.tick(now) })
		}
		if s.dirty {
			s.publishSnapshot()
		}
	}

	if dropped := s.mailbox.Close(); len(dropped) > 0 {
		s.logger.Debug("dropping messages received after close", "count", len(dropped))
	}
	s.publishSnapshot()

	result := s.assembler.Submit(s.baseCtx, s.ticket)
	s.result.Store(&result)

	if stt := s.speechToText(); stt != nil {
		if err := stt.Close(); err != nil {
			s.logger.Debug("failed to close speech to text", "error", err)
		}
	}
	s.onDone(s)
}

// safely runs fn and turns a panic into an internal failure close, so a bug
// in one call still produces that call's ticket.
func (s *Session) safely(fn func()) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		s.logger.Error("session worker panicked", "panic", fmt.Sprint(recovered), "state", s.data.State.String())
		defer func() {
			if again := recover(); again != nil {
				s.logger.Error("session close panicked", "panic", fmt.Sprint(again))
				s.forceClosed(calls.CauseInternalFailure)
			}
		}()
		s.terminate(triggerInternalFailure)
	}()
	fn()
}

func (s *Session) greet() {
	s.speak(s.config.Messages.Greeting)
}

func (s *Session) handle(msg message) {
	now := time.Now()
	switch msg := msg.(type) {
	case fragmentMessage:
		s.touch(now)
		s.onFragment(msg.fragment, msg.receivedAt, now)
	case callerSpeechStartedMessage:
		s.touch(msg.at)
		s.turns.Heard(msg.at)
	case callerSpeechEndedMessage:
		s.normalizer.SpeechEnded()
		if !s.normalizer.InFlight() {
			s.turns.CallerStopped(msg.at)
		}
	case gateResultMessage:
		s.onGateResult(msg.attempt)
	case speechFinishedMessage:
		s.onSpeechFinished(msg.handle, now)
	case issueSummaryMessage:
		summary := msg.summary
		s.data.Profile.IssueSummary = &summary
		s.assembler.SetProfile(s.data.Profile)
		s.dirty = true
	case terminateMessage:
		if msg.trigger == triggerHangup {
			s.emit(events.NewCallHungUp(s.id))
		}
		s.terminate(msg.trigger)
	}
	s.tick(now)
}

func (s *Session) onFragment(fragment speechtotext.Fragment, receivedAt, now time.Time) {
	began, err := s.normalizer.Push(fragment, receivedAt)
	if errors.Is(err, ErrLowConfidenceDiscarded) {
		s.discarded.Add(s.ctx, 1)
		s.logger.Debug("discarded low confidence fragment", "confidence", fragment.Confidence)
		s.emit(events.NewLowConfidenceDiscarded(s.id, fragment.Text, fragment.Confidence))
		if fragment.IsFinal {
			s.turns.CallerStopped(now)
		}
		return
	}

	if began {
		s.emit(events.NewCallerSpeechStarted(s.id))
		if s.turns.CallerBegan(now, s.synth.Speaking()) {
			if _, ok := nextState(s.data.State, triggerInterrupt); ok {
				s.emit(events.NewInterrupted(s.id))
				s.fire(triggerInterrupt)
			}
		}
	}
	if !fragment.IsFinal {
		s.turns.Heard(now)
		s.emit(events.NewUtteranceInterimUpdated(s.id, s.normalizer.Hypothesis()))
	}
}

func (s *Session) tick(now time.Time) {
	if s.data.State.IsTerminal() {
		return
	}

	for utterance := range s.normalizer.Ready(now) {
		s.recordCallerUtterance(utterance, now)
	}
	if s.normalizer.Buffered() == 0 && s.normalizer.TakeSpeechEnded() {
		s.turns.SemanticEnd()
	}

	if s.data.State != calls.StateListening {
		return
	}
	switch signal := s.turns.Poll(now); signal.kind {
	case turnSignalComplete:
		s.onTurnComplete(signal.turn)
	case turnSignalCallerSilent:
		s.emit(events.NewCallerSilentTimeout(s.id))
		s.fire(triggerCallerSilent)
	}
}

func (s *Session) recordCallerUtterance(utterance calls.Utterance, now time.Time) {
	s.turns.Observe(utterance, now)
	s.appendUtterance(utterance)
	s.emit(events.NewUtteranceFinalized(s.id, utterance))
}

func (s *Session) appendUtterance(utterance calls.Utterance) {
	s.data.Transcript = append(s.data.Transcript, utterance)
	s.assembler.AddUtterance(utterance)
	s.dirty = true
}

func (s *Session) onTurnComplete(turn Turn) {
	s.emit(events.NewTurnCompleted(s.id, turn.Text, turn.Utterances))

	email, emailOnly := extractEmail(turn.Text)
	if email != "" {
		if s.data.Profile.Email == nil || *s.data.Profile.Email != email {
			s.data.Profile.Email = &email
			s.assembler.SetProfile(s.data.Profile)
			s.dirty = true
			s.logger.Info("caller email captured")
		}
		if emailOnly {
			s.fire(triggerEmailCaptured)
			return
		}
	}

	if s.data.Profile.IssueSummary == nil {
		summary := strings.TrimSpace(turn.Text)
		s.data.Profile.IssueSummary = &summary
		s.assembler.SetProfile(s.data.Profile)
		s.dirty = true
		s.requestSummary(summary)
	}

	s.pendingQuery = turn.Text
	s.fire(triggerTurnComplete)
}

func (s *Session) requestSummary(text string) {
	if s.summarizer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.SummaryTimeout)
		defer cancel()

		summary, err := s.summarizer.Summarize(ctx, text)
		if err != nil {
			s.logger.Debug("issue summary failed, keeping caller wording", "error", err)
			return
		}
		if summary = strings.TrimSpace(summary); summary != "" {
			s.mailbox.Post(issueSummaryMessage{summary: summary})
		}
	}()
}

func (s *Session) onGateResult(attempt calls.AnswerAttempt) {
	if s.data.State != calls.StateSearching {
		s.logger.Debug("ignoring late knowledge base result", "state", s.data.State.String())
		return
	}

	s.data.Attempts = append(s.data.Attempts, attempt)
	s.assembler.AddAttempt(attempt)
	s.dirty = true
	s.emit(events.NewAnswerAttemptRecorded(s.id, attempt))

	if attempt.Outcome == calls.OutcomeAnswered {
		s.consecutiveGateErrors = 0
		s.fire(triggerAnswered)
		return
	}

	if attempt.Outcome == calls.OutcomeGateError {
		s.consecutiveGateErrors++
	} else {
		s.consecutiveGateErrors = 0
	}
	if len(s.data.Attempts) >= s.gate.MaxAttempts() || s.consecutiveGateErrors >= 2 {
		s.fire(triggerAttemptsExhausted)
		return
	}
	s.fire(triggerUnresolved)
}

func (s *Session) onSpeechFinished(handle *SpeechHandle, now time.Time) {
	if handle != nil {
		result := handle.Result()
		// Interrupted speech was recorded when it was cancelled.
		if result.Delivered() {
			s.recordAgentUtterance(handle, result, now)
		}
		if result.Err != nil {
			s.logger.Warn("agent speech failed", "speech_id", handle.ID(), "error", result.Err)
		}
	}
	if handle != s.speech {
		return
	}
	s.speech = nil
	if handle == nil || handle.Result().Delivered() {
		s.fire(triggerSpeechCompleted)
	}
}

func (s *Session) recordAgentUtterance(handle *SpeechHandle, result SpeechResult, now time.Time) {
	// Failed speech never reached the caller.
	if result.SpokenText == "" || result.Err != nil {
		return
	}
	s.touch(now)
	s.appendUtterance(calls.Utterance{
		ID:          handle.ID(),
		Speaker:     calls.SpeakerAgent,
		Text:        result.SpokenText,
		StartedAt:   handle.startedAt,
		EndedAt:     now,
		Confidence:  1,
		IsFinal:     true,
		Interrupted: result.Interrupted,
	})
}

// speak starts text as the session's only synthesis. Empty text completes at
// once so the state machine moves on.
func (s *Session) speak(text string) {
	s.cancelSpeech()
	if strings.TrimSpace(text) == "" {
		s.speech = nil
		s.mailbox.Post(speechFinishedMessage{})
		return
	}

	handle, err := s.synth.Speak(s.ctx, text)
	if err != nil {
		// Only possible when a cancel raced with a new synthesis.
		s.logger.Warn("failed to start agent speech", "error", err)
		s.speech = nil
		s.mailbox.Post(speechFinishedMessage{})
		return
	}
	s.speech = handle
}

// cancelSpeech stops the agent and records what the caller actually heard.
func (s *Session) cancelSpeech() {
	handle := s.speech
	if handle == nil {
		if active := s.synth.Active(); active != nil {
			active.Cancel()
		}
		return
	}
	s.speech = nil
	handle.Cancel()

	if result := handle.Result(); result.Interrupted && result.SpokenText != "" {
		s.appendUtterance(calls.Utterance{
			ID:          handle.ID(),
			Speaker:     calls.SpeakerAgent,
			Text:        result.SpokenText,
			StartedAt:   handle.startedAt,
			EndedAt:     time.Now(),
			Confidence:  1,
			IsFinal:     true,
			Interrupted: true,
		})
	}
}

// fire applies trigger to the current state. Triggers without a transition
// are ignored.
func (s *Session) fire(t trigger) bool {
	from := s.data.State
	to, ok := nextState(from, t)
	if !ok {
		s.logger.Debug("ignoring trigger", "error", transitionError{from: from, trigger: t})
		return false
	}

	now := time.Now()
	s.data.State = to
	s.dirty = true
	s.touch(now)
	s.assembler.RecordTransition(from, to, t, now)
	s.logger.Info("call state changed", "from", from.String(), "to", to.String(), "trigger", string(t))
	s.emit(events.NewStateChanged(s.id, from, to, string(t)))

	s.enter(from, to, t, now)
	return true
}

func (s *Session) enter(from, to calls.State, t trigger, now time.Time) {
	switch to {
	case calls.StateListening:
		switch t {
		case triggerInterrupt:
			s.cancelSpeech()
			s.turns.Arm(now)
		case triggerSpeechCompleted:
			s.turns.Arm(now)
		case triggerUnresolved:
			s.turns.Disarm()
			s.speak(s.config.Messages.Clarify)
		case triggerEmailCaptured:
			s.turns.Disarm()
			s.speak(s.config.Messages.EmailCaptured)
		}

	case calls.StateSearching:
		s.turns.Disarm()
		s.lookup(s.pendingQuery)

	case calls.StateResponding:
		s.turns.Disarm()
		s.turns.MarkResolved()
		s.speak(s.answerText())

	case calls.StateEscalating:
		s.turns.Disarm()
		switch t {
		case triggerIdleCeiling:
			s.escalationCause = calls.CauseIdleCeiling
			s.cancelSpeech()
		case triggerCallerSilent:
			s.escalationCause = calls.CauseCallerSilent
			s.speak(s.config.Messages.Handoff)
		default:
			s.escalationCause = calls.CauseEscalated
			s.speak(s.config.Messages.Handoff)
		}

	case calls.StateClosing:
		s.turns.Disarm()
		if t == triggerSpeechCompleted {
			if from == calls.StateResponding {
				s.closingCause = calls.CauseResolved
			} else {
				s.closingCause = s.escalationCause
			}
			if s.closingCause == calls.CauseCallerSilent {
				// Nobody is left to say goodbye to.
				s.speak("")
				return
			}
			s.speak(s.config.Messages.Farewell)
			return
		}
		s.closingCause = s.forcedCause(t)
		s.cancelSpeech()

	case calls.StateClosed:
		if s.closingCause == calls.CauseNone {
			s.closingCause = s.forcedCause(t)
		}
		s.close(now)
	}
}

// forcedCause maps a termination trigger to its cause. A caller who went
// silent and then hung up still abandoned the call.
func (s *Session) forcedCause(t trigger) calls.TerminationCause {
	switch t {
	case triggerHangup:
		if s.escalationCause != calls.CauseNone {
			return s.escalationCause
		}
		return calls.CauseHangup
	case triggerIdleCeiling:
		return calls.CauseIdleCeiling
	case triggerInternalFailure:
		return calls.CauseInternalFailure
	case triggerShutdown:
		return calls.CauseShutdown
	}
	return calls.CauseNone
}

func (s *Session) answerText() string {
	attempt, ok := calls.LastAnswered(s.data.Attempts)
	if !ok || attempt.Match == nil {
		return s.config.Messages.AnswerIntro
	}
	return strings.TrimSpace(s.config.Messages.AnswerIntro + " " + attempt.Match.Snippet)
}

func (s *Session) lookup(query string) {
	sessionContext := SessionContext{
		CallID:        s.id,
		PriorTurns:    slices.Clone(s.priorTurns),
		AttemptNumber: len(s.data.Attempts) + 1,
	}
	s.priorTurns = append(s.priorTurns, query)

	go func() {
		attempt := s.gate.Lookup(s.ctx, query, sessionContext)
		s.mailbox.Post(gateResultMessage{attempt: attempt})
	}()
}

// terminate drives the session to Closed with a forced trigger.
func (s *Session) terminate(t trigger) {
	for !s.data.State.IsTerminal() {
		if !s.fire(t) {
			s.forceClosed(s.forcedCause(t))
			return
		}
	}
}

// close runs once, on entering Closed.
func (s *Session) close(now time.Time) {
	s.cancelSpeech()
	for utterance := range s.normalizer.Flush() {
		s.recordCallerUtterance(utterance, now)
	}
	s.cancel()

	s.data.Cause = s.closingCause
	s.ticket = s.assembler.Finalize(s.baseCtx, s.closingCause, now)
	s.logger.Info("call closed", "cause", string(s.closingCause), "resolution", string(s.ticket.Resolution))
}

// forceClosed closes the session without going through the transition
// table. It is the last resort when regular termination failed.
func (s *Session) forceClosed(cause calls.TerminationCause) {
	if s.data.State.IsTerminal() {
		return
	}
	s.data.State = calls.StateClosed
	s.closingCause = cause
	s.dirty = true
	s.cancel()
	s.data.Cause = cause
	s.ticket = s.assembler.Finalize(s.baseCtx, cause, time.Now())
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
	s.data.LastActivityAt = now
}

func (s *Session) publishSnapshot() {
	var snapshot calls.CallSession
	if err := copier.CopyWithOption(&snapshot, &s.data, copier.Option{DeepCopy: true}); err != nil {
		s.logger.Warn("failed to copy session snapshot", "error", err)
		return
	}
	s.snapshot.Store(&snapshot)
	s.dirty = false
}
