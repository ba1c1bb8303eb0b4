// Package orchestration runs live support calls: it turns caller speech into
// turns, looks answers up in the knowledge base, speaks to the caller and
// files exactly one ticket for every call.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/speechtotext"
	"github.com/koscakluka/ema-support/core/ticketing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CallInfo describes a call announced by the telephony transport.
type CallInfo struct {
	CallID calls.CallID
	// Channel names the transport stream carrying the call audio.
	Channel     string
	PhoneNumber string
}

// Orchestrator is the transport facing entry point. It is safe for
// concurrent use by any number of calls.
type Orchestrator struct {
	config Config
	logger *slog.Logger
	emit   eventEmitter

	searcher     knowledgebase.Searcher
	speechToText SpeechToTextFactory
	textToSpeech TextToSpeech
	ticketing    ticketing.Client
	fallback     ticketing.FallbackStore
	classifier   Classifier
	summarizer   Summarizer

	gate     *answerGate
	registry *Registry
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:   DefaultConfig(),
		logger:   logger,
		emit:     noopEventEmitter,
		fallback: ticketing.NewMemoryFallbackStore(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.emit = newLoggingEventEmitter(o.logger, o.emit)
	o.gate = newAnswerGate(o.searcher, o.config)
	o.registry = NewRegistry(o.config.SessionIdleCeiling, o.config.SweepInterval, o.logger)
	return o
}

// StartCall opens a session for the call and starts greeting the caller.
// Outbound audio for the call goes to sink.
func (o *Orchestrator) StartCall(ctx context.Context, info CallInfo, sink AudioSink) error {
	ctx, span := tracer.Start(ctx, "start call")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", info.CallID.String()))

	session, err := o.registry.Create(info.CallID, func() *Session {
		return newSession(ctx, o, info, sink)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to start call %s: %w", info.CallID, err)
	}

	o.emit(events.NewCallStarted(info.CallID, info.Channel, info.PhoneNumber))
	o.logger.InfoContext(ctx, "call started", "call_id", info.CallID.String(), "channel", info.Channel)

	if o.speechToText != nil {
		if err := o.startSpeechToText(session); err != nil {
			// Without recognition the caller is never heard, the session still
			// runs and ends in escalation.
			span.RecordError(err)
			o.logger.ErrorContext(ctx, "speech to text unavailable for call", "call_id", info.CallID.String(), "error", err)
		}
	}

	session.start()
	return nil
}

func (o *Orchestrator) startSpeechToText(session *Session) error {
	client, err := o.speechToText(session.ctx, session.ID())
	if err != nil {
		return fmt.Errorf("failed to create speech to text client: %w", err)
	}

	err = client.Transcribe(session.ctx,
		speechtotext.WithEncodingInfo(o.config.Encoding),
		speechtotext.WithFragmentCallback(func(fragment speechtotext.Fragment) {
			// Results still streaming in after close are dropped.
			_ = session.PushFragment(fragment)
		}),
		speechtotext.WithSpeechStartedCallback(session.CallerSpeechStarted),
		speechtotext.WithSpeechEndedCallback(session.CallerSpeechEnded),
		speechtotext.WithErrorCallback(func(err error) {
			session.logger.Error("speech to text stream failed", "error", err)
		}),
	)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to start transcription: %w", err)
	}
	session.attachSpeechToText(client)
	return nil
}

// ReceiveAudio forwards caller audio to the call's recognizer. It never
// waits on the session itself.
func (o *Orchestrator) ReceiveAudio(callID calls.CallID, audio []byte) error {
	session, ok := o.registry.Get(callID)
	if !ok {
		return ErrSessionNotFound
	}
	if session.Closed() {
		return ErrSessionClosed
	}
	stt := session.speechToText()
	if stt == nil {
		return nil
	}
	return stt.SendAudio(audio)
}

// PushFragment feeds a recognition result to the call directly, for
// transports that run their own recognizer.
func (o *Orchestrator) PushFragment(callID calls.CallID, fragment speechtotext.Fragment) error {
	session, ok := o.registry.Get(callID)
	if !ok {
		return ErrSessionNotFound
	}
	return session.PushFragment(fragment)
}

// EndCall reports that the transport hung up. Ending an unknown or already
// finished call is not an error.
func (o *Orchestrator) EndCall(callID calls.CallID) {
	if session, ok := o.registry.Get(callID); ok {
		session.Hangup()
	}
}

// TerminateCall forces the call closed with cause.
func (o *Orchestrator) TerminateCall(callID calls.CallID, cause calls.TerminationCause) error {
	session, ok := o.registry.Get(callID)
	if !ok {
		return ErrSessionNotFound
	}
	if session.Closed() {
		return ErrSessionClosed
	}
	session.Terminate(cause)
	return nil
}

func (o *Orchestrator) Session(callID calls.CallID) (*Session, bool) {
	return o.registry.Get(callID)
}

func (o *Orchestrator) Sessions() []calls.CallSession {
	sessions := o.registry.List()
	snapshots := make([]calls.CallSession, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.Snapshot())
	}
	return snapshots
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// Run supervises idle sessions until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) { o.registry.Run(ctx) }

// Shutdown closes all live calls and waits until their tickets are handed
// off or ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.registry.Shutdown(ctx)
}
