package orchestration

import (
	"context"
	"log/slog"
	"time"

	"github.com/koscakluka/ema-support/core/audio"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/retry"
	"github.com/koscakluka/ema-support/core/speechtotext"
	"github.com/koscakluka/ema-support/core/texttospeech"
	"github.com/koscakluka/ema-support/core/ticketing"
)

// Config holds the tunable thresholds of call handling. Every duration and
// threshold is configuration; DefaultConfig lists the values used when
// nothing else is set.
type Config struct {
	// SilenceThreshold is how long the caller has to stay quiet after their
	// last utterance for the turn to complete.
	SilenceThreshold time.Duration
	// AbandonmentTimeout is how long a listening session waits for any caller
	// speech before giving up on the caller.
	AbandonmentTimeout time.Duration
	// KBRelevanceThreshold is the minimum top score that counts as an answer.
	KBRelevanceThreshold float64
	// MaxKBAttempts is the number of lookups a call may make before it is
	// escalated.
	MaxKBAttempts int
	// KBTimeout bounds every single knowledge base request.
	KBTimeout time.Duration
	// GateRetry is applied to failed knowledge base requests.
	GateRetry retry.Policy
	// SessionIdleCeiling is the absolute time a session may go without
	// activity before the registry forces it closed.
	SessionIdleCeiling time.Duration
	// TicketRetryCount is the number of resubmissions after a failed ticket
	// creation. The payload is queued for replay once they are exhausted.
	TicketRetryCount   int
	TicketRetryBackoff time.Duration
	// TicketSubmitTimeout bounds the whole submission including retries.
	TicketSubmitTimeout time.Duration

	MinTranscriptConfidence float64
	// JitterWindow is how long final fragments are held back so that late
	// fragments with earlier timestamps are still put in order.
	JitterWindow time.Duration
	// SynthesisTimeout caps how long one synthesis may take before it is
	// treated as delivered.
	SynthesisTimeout time.Duration
	SweepInterval    time.Duration
	// TickInterval is the resolution of the session timers.
	TickInterval time.Duration
	// SummaryTimeout bounds the optional issue summarization.
	SummaryTimeout time.Duration

	// Encoding is the audio format exchanged with the telephony transport.
	Encoding audio.EncodingInfo
	Messages Messages
}

// Messages are the fixed texts spoken by the agent. Empty texts are skipped.
type Messages struct {
	Greeting string
	// AnswerIntro is spoken before the snippet of the matched article.
	AnswerIntro string
	Clarify     string
	Handoff     string
	Farewell    string
	// EmailCaptured acknowledges a turn that only carried the caller's email.
	EmailCaptured string
}

func DefaultConfig() Config {
	return Config{
		SilenceThreshold:     1000 * time.Millisecond,
		AbandonmentTimeout:   20000 * time.Millisecond,
		KBRelevanceThreshold: 0.7,
		MaxKBAttempts:        2,
		KBTimeout:            5000 * time.Millisecond,
		GateRetry: retry.Policy{
			MaxRetries:    1,
			Backoff:       250 * time.Millisecond,
			Exponential:   true,
			JitterPercent: 10,
		},
		SessionIdleCeiling:      600000 * time.Millisecond,
		TicketRetryCount:        2,
		TicketRetryBackoff:      500 * time.Millisecond,
		TicketSubmitTimeout:     30 * time.Second,
		MinTranscriptConfidence: 0.4,
		JitterWindow:            150 * time.Millisecond,
		SynthesisTimeout:        60 * time.Second,
		SweepInterval:           30 * time.Second,
		TickInterval:            50 * time.Millisecond,
		SummaryTimeout:          5 * time.Second,
		Encoding:                audio.GetTelephonyEncodingInfo(),
		Messages: Messages{
			Greeting:      "Hello, thank you for calling support. I'm an AI assistant. Could you please tell me your email address and what you need help with today?",
			AnswerIntro:   "Here is what I found.",
			Clarify:       "I couldn't find an answer to that yet. Could you describe the problem in a bit more detail?",
			Handoff:       "I wasn't able to resolve this myself, so I'm creating a ticket and a member of our support team will follow up with you shortly.",
			Farewell:      "Thank you for calling. Goodbye!",
			EmailCaptured: "Thank you, I have your email. How can I help you today?",
		},
	}
}

func (c Config) ticketRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:  uint64(max(c.TicketRetryCount, 0)),
		Backoff:     c.TicketRetryBackoff,
		Exponential: true,
	}
}

// AudioSink is the outbound side of one call on the telephony transport.
type AudioSink interface {
	SendAudio(audio []byte) error
	// Mark asks the transport to report when everything sent before the mark
	// has been played to the caller. onPlayed is never called for marks
	// dropped by Clear.
	Mark(name string, onPlayed func()) error
	// Clear drops all audio that has not been played yet.
	Clear() error
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
	Close() error
}

// SpeechToTextFactory opens a recognizer for one call.
type SpeechToTextFactory func(ctx context.Context, callID calls.CallID) (SpeechToText, error)

type TextToSpeech interface {
	NewSpeechGeneratorV0(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGeneratorV0, error)
}

type Classifier interface {
	Classify(ctx context.Context, text string) (ticketing.Classification, error)
}

// Summarizer condenses what the caller said into a one-line issue summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type OrchestratorOption func(*Orchestrator)

func WithConfig(config Config) OrchestratorOption {
	return func(o *Orchestrator) { o.config = config }
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventHandler registers a handler for every call flow event. The
// handler is called from session workers and must not block.
func WithEventHandler(handler func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		if handler != nil {
			o.emit = handler
		}
	}
}

func WithKnowledgeBase(searcher knowledgebase.Searcher) OrchestratorOption {
	return func(o *Orchestrator) { o.searcher = searcher }
}

func WithSpeechToText(factory SpeechToTextFactory) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = factory }
}

func WithTextToSpeech(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

func WithTicketing(client ticketing.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.ticketing = client }
}

func WithFallbackStore(store ticketing.FallbackStore) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.fallback = store
		}
	}
}

func WithClassifier(classifier Classifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = classifier }
}

func WithSummarizer(summarizer Summarizer) OrchestratorOption {
	return func(o *Orchestrator) { o.summarizer = summarizer }
}
