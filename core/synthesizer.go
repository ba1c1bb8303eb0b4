package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-support/core/audio"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errNoTextToSpeech = errors.New("no text to speech configured")

// SpeechResult describes how a synthesis ended.
type SpeechResult struct {
	Text string
	// SpokenText is the part of Text confirmed as played. It equals Text for
	// delivered speech.
	SpokenText  string
	Interrupted bool
	// TimedOut is set when the synthesis hit its timeout and was treated as
	// delivered.
	TimedOut bool
	// Err is set when generation failed. The speech still counts as
	// delivered so that the call does not stall.
	Err error
}

// Delivered reports whether the speech counts as fully delivered.
func (r SpeechResult) Delivered() bool { return !r.Interrupted }

// SpeechHandle tracks one synthesis from Speak until it is delivered or
// cancelled. Exactly one of the two ever happens.
type SpeechHandle struct {
	id        string
	text      string
	startedAt time.Time
	synth     *synthesizer
	done      chan struct{}

	mu        sync.Mutex
	generator texttospeech.SpeechGeneratorV0
	timer     *time.Timer
	marks     int
	spoken    []string
	finished  bool
	result    SpeechResult
}

func (h *SpeechHandle) ID() string { return h.id }

func (h *SpeechHandle) Text() string { return h.text }

// Done is closed once the speech is delivered or cancelled.
func (h *SpeechHandle) Done() <-chan struct{} { return h.done }

// Result is only meaningful after Done is closed.
func (h *SpeechHandle) Result() SpeechResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Cancel stops playback at once and reports the speech as interrupted.
// It does nothing if the speech already ended.
func (h *SpeechHandle) Cancel() {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	generator := h.generator
	h.result = SpeechResult{
		Text:        h.text,
		SpokenText:  strings.Join(h.spoken, " "),
		Interrupted: true,
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	if err := h.synth.sink.Clear(); err != nil {
		h.synth.logger.Warn("failed to clear outbound audio", "call_id", h.synth.callID.String(), "error", err)
	}
	if generator != nil {
		if err := generator.Cancel(); err != nil {
			h.synth.logger.Debug("failed to cancel speech generator", "call_id", h.synth.callID.String(), "error", err)
		}
	}
	h.synth.publish(h)
}

func (h *SpeechHandle) played(segment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	if segment = strings.TrimSpace(segment); segment != "" {
		h.spoken = append(h.spoken, segment)
	}
}

func (h *SpeechHandle) live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.finished
}

func (h *SpeechHandle) nextMark() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return "", false
	}
	h.marks++
	return fmt.Sprintf("%s-%d", h.id, h.marks), true
}

// deliver finishes the speech as delivered. It reports false if the speech
// had already ended.
func (h *SpeechHandle) deliver(result SpeechResult) bool {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return false
	}
	h.finished = true
	result.Text = h.text
	result.SpokenText = h.text
	result.Interrupted = false
	h.result = result
	generator := h.generator
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	if result.TimedOut && generator != nil {
		_ = generator.Close()
	}
	h.synth.publish(h)
	return true
}

// synthesizer speaks agent text on one call. At most one synthesis is active
// at a time.
type synthesizer struct {
	callID   calls.CallID
	tts      TextToSpeech
	sink     AudioSink
	encoding audio.EncodingInfo
	timeout  time.Duration
	emit     eventEmitter
	logger   *slog.Logger

	// onFinished is called once per handle after it is delivered or
	// cancelled. It must not block.
	onFinished func(*SpeechHandle)

	mu     sync.Mutex
	active *SpeechHandle
}

func newSynthesizer(callID calls.CallID, tts TextToSpeech, sink AudioSink, config Config, emit eventEmitter, logger *slog.Logger) *synthesizer {
	return &synthesizer{
		callID:     callID,
		tts:        tts,
		sink:       sink,
		encoding:   config.Encoding,
		timeout:    config.SynthesisTimeout,
		emit:       emit,
		logger:     logger,
		onFinished: func(*SpeechHandle) {},
	}
}

// Speaking reports whether a synthesis is active.
func (s *synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *synthesizer) Active() *SpeechHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Speak starts speaking text. Generation failures do not fail Speak; they
// end the returned handle early with Result().Err set.
func (s *synthesizer) Speak(ctx context.Context, text string) (*SpeechHandle, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrSynthesisActive
	}
	handle := &SpeechHandle{
		id:        uuid.NewString(),
		text:      text,
		startedAt: time.Now(),
		synth:     s,
		done:      make(chan struct{}),
	}
	s.active = handle
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", s.callID.String()),
		attribute.String("speech.id", handle.id),
	)

	s.emit(events.NewAgentSpeechStarted(s.callID, handle.id, text))

	if s.tts == nil {
		handle.deliver(SpeechResult{Err: errNoTextToSpeech})
		return handle, nil
	}

	generator, err := s.tts.NewSpeechGeneratorV0(ctx,
		texttospeech.WithEncodingInfo(s.encoding),
		texttospeech.WithSpeechAudioCallback(func(audio []byte) {
			// Audio generated after a cancel must not reach the caller.
			if !handle.live() {
				return
			}
			if err := s.sink.SendAudio(audio); err != nil {
				s.logger.Debug("failed to send agent audio", "call_id", s.callID.String(), "error", err)
			}
		}),
		texttospeech.WithSpeechMarkCallback(func(segment string) {
			name, ok := handle.nextMark()
			if !ok {
				return
			}
			if err := s.sink.Mark(name, func() { handle.played(segment) }); err != nil {
				s.logger.Debug("failed to mark agent audio", "call_id", s.callID.String(), "error", err)
			}
		}),
		texttospeech.WithSpeechEndedCallbackV0(func(texttospeech.SpeechEndedReport) {
			name, ok := handle.nextMark()
			if !ok {
				return
			}
			if err := s.sink.Mark(name, func() { handle.deliver(SpeechResult{}) }); err != nil {
				handle.deliver(SpeechResult{Err: fmt.Errorf("failed to mark end of speech: %w", err)})
			}
		}),
		texttospeech.WithErrorCallback(func(err error) {
			handle.deliver(SpeechResult{Err: err})
		}),
	)
	if err != nil {
		err = fmt.Errorf("failed to start speech generation: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handle.deliver(SpeechResult{Err: err})
		return handle, nil
	}

	handle.mu.Lock()
	handle.generator = generator
	finished := handle.finished
	if !finished && s.timeout > 0 {
		handle.timer = time.AfterFunc(s.timeout, func() { handle.deliver(SpeechResult{TimedOut: true}) })
	}
	handle.mu.Unlock()
	if finished {
		_ = generator.Close()
		return handle, nil
	}

	if err := sendSentences(generator, splitSentences(text)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = generator.Cancel()
		handle.deliver(SpeechResult{Err: err})
	}
	return handle, nil
}

func sendSentences(generator texttospeech.SpeechGeneratorV0, sentences []string) error {
	for _, sentence := range sentences {
		if err := generator.SendText(sentence + " "); err != nil {
			return fmt.Errorf("failed to send text: %w", err)
		}
		if err := generator.Mark(); err != nil {
			return fmt.Errorf("failed to mark text: %w", err)
		}
	}
	if err := generator.EndOfText(); err != nil {
		return fmt.Errorf("failed to end text: %w", err)
	}
	return nil
}

// publish releases the active slot and reports the finished handle.
func (s *synthesizer) publish(handle *SpeechHandle) {
	s.mu.Lock()
	if s.active == handle {
		s.active = nil
	}
	s.mu.Unlock()
	close(handle.done)

	result := handle.Result()
	if result.Interrupted {
		s.emit(events.NewAgentSpeechInterrupted(s.callID, handle.id, result.SpokenText))
	} else {
		s.emit(events.NewAgentSpeechCompleted(s.callID, handle.id, result.Text))
	}
	s.onFinished(handle)
}

// splitSentences cuts text after sentence ending punctuation that is
// followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(strings.TrimSpace(text))
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
