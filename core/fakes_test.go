package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/events"
	"github.com/koscakluka/ema-support/core/knowledgebase"
	"github.com/koscakluka/ema-support/core/retry"
	"github.com/koscakluka/ema-support/core/speechtotext"
	"github.com/koscakluka/ema-support/core/texttospeech"
	"github.com/koscakluka/ema-support/core/ticketing"
)

func testConfig() Config {
	config := DefaultConfig()
	config.SilenceThreshold = 30 * time.Millisecond
	config.AbandonmentTimeout = 2 * time.Second
	config.KBTimeout = 200 * time.Millisecond
	config.GateRetry = retry.Policy{MaxRetries: 1, Backoff: time.Millisecond}
	config.SessionIdleCeiling = time.Minute
	config.TicketRetryBackoff = time.Millisecond
	config.TicketSubmitTimeout = 2 * time.Second
	config.JitterWindow = 5 * time.Millisecond
	config.SynthesisTimeout = 2 * time.Second
	config.TickInterval = 5 * time.Millisecond
	config.SummaryTimeout = 200 * time.Millisecond
	return config
}

// recordingSink plays marks immediately when autoPlay is set. Otherwise they
// wait for playNext or playAll.
type recordingSink struct {
	mu       sync.Mutex
	autoPlay bool
	audio    [][]byte
	pending  []pendingMark
	cleared  int

	clearPanics bool
}

type pendingMark struct {
	name     string
	onPlayed func()
}

func newAutoPlaySink() *recordingSink { return &recordingSink{autoPlay: true} }

func (s *recordingSink) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio)
	return nil
}

func (s *recordingSink) Mark(name string, onPlayed func()) error {
	s.mu.Lock()
	if s.autoPlay {
		s.mu.Unlock()
		onPlayed()
		return nil
	}
	s.pending = append(s.pending, pendingMark{name: name, onPlayed: onPlayed})
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearPanics {
		panic("transport gone")
	}
	s.pending = nil
	s.cleared++
	return nil
}

func (s *recordingSink) playNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	mark := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	mark.onPlayed()
	return true
}

func (s *recordingSink) playAll() {
	for s.playNext() {
	}
}

func (s *recordingSink) pendingMarks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *recordingSink) clearCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// textToSpeechStub generates one audio chunk per marked segment, right away.
type textToSpeechStub struct {
	mu         sync.Mutex
	generators []*speechGeneratorStub
	err        error
}

func (stub *textToSpeechStub) NewSpeechGeneratorV0(_ context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGeneratorV0, error) {
	if stub.err != nil {
		return nil, stub.err
	}
	options := texttospeech.TextToSpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	generator := &speechGeneratorStub{options: options}
	stub.mu.Lock()
	stub.generators = append(stub.generators, generator)
	stub.mu.Unlock()
	return generator, nil
}

func (stub *textToSpeechStub) count() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.generators)
}

type speechGeneratorStub struct {
	options texttospeech.TextToSpeechOptions

	mu        sync.Mutex
	segment   string
	text      string
	marks     int
	cancelled bool
	closed    bool
}

func (stub *speechGeneratorStub) SendText(text string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.segment += text
	stub.text += text
	return nil
}

func (stub *speechGeneratorStub) Mark() error {
	stub.mu.Lock()
	segment := stub.segment
	stub.segment = ""
	stub.marks++
	stub.mu.Unlock()

	if stub.options.SpeechAudioCallback != nil {
		stub.options.SpeechAudioCallback([]byte(segment))
	}
	if stub.options.SpeechMarkCallback != nil {
		stub.options.SpeechMarkCallback(segment)
	}
	return nil
}

func (stub *speechGeneratorStub) EndOfText() error {
	stub.mu.Lock()
	report := texttospeech.SpeechEndedReport{Text: stub.text, Marks: stub.marks}
	stub.mu.Unlock()

	if stub.options.SpeechEndedCallbackV0 != nil {
		stub.options.SpeechEndedCallbackV0(report)
	}
	return nil
}

func (stub *speechGeneratorStub) Cancel() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.cancelled = true
	return nil
}

func (stub *speechGeneratorStub) Close() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.closed = true
	return nil
}

// searcherFunc adapts a function to knowledgebase.Searcher.
type searcherFunc func(ctx context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error)

func (f searcherFunc) Search(ctx context.Context, query knowledgebase.Query) ([]knowledgebase.Candidate, error) {
	return f(ctx, query)
}

func scoredSearcher(articleID, snippet string, score float64) searcherFunc {
	return func(context.Context, knowledgebase.Query) ([]knowledgebase.Candidate, error) {
		return []knowledgebase.Candidate{{ArticleID: articleID, Title: articleID, Snippet: snippet, Score: score}}, nil
	}
}

// recordingTicketing fails the first failures calls with err.
type recordingTicketing struct {
	mu       sync.Mutex
	failures int
	err      error
	payloads []ticketing.Payload
}

func (stub *recordingTicketing) CreateTicket(_ context.Context, payload ticketing.Payload) (string, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.payloads = append(stub.payloads, payload)
	if len(stub.payloads) <= stub.failures {
		return "", stub.err
	}
	return "T-" + payload.CallID, nil
}

func (stub *recordingTicketing) calls() []ticketing.Payload {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]ticketing.Payload(nil), stub.payloads...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matching []events.Event
	for _, event := range r.events {
		if event.Kind() == kind {
			matching = append(matching, event)
		}
	}
	return matching
}

func (r *eventRecorder) stateChanges() []events.StateChanged {
	var changes []events.StateChanged
	for _, event := range r.ofKind(events.KindStateChanged) {
		changes = append(changes, event.(events.StateChanged))
	}
	return changes
}

func finalFragment(text string, confidence float64) speechtotext.Fragment {
	return speechtotext.Fragment{Text: text, Confidence: confidence, IsFinal: true, SpeechFinal: true}
}

func partialFragment(text string) speechtotext.Fragment {
	return speechtotext.Fragment{Text: text, Confidence: 0.9}
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}

func waitForState(t *testing.T, session *Session, state calls.State) {
	t.Helper()
	waitForCondition(t, 2*time.Second, "state "+state.String(), func() bool {
		return session.State() == state
	})
}

func waitForDone(t *testing.T, session *Session) SubmitResult {
	t.Helper()

	select {
	case <-session.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for session %s to finish, state %s", session.ID(), session.State())
	}
	result, ok := session.Result()
	if !ok {
		t.Fatalf("expected a submit result once the session is done")
	}
	return result
}
