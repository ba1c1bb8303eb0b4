package orchestration

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/speechtotext"
)

func TestNormalizerDropsLowConfidenceFragments(t *testing.T) {
	n := newNormalizer(0.4, 0)

	began, err := n.Push(speechtotext.Fragment{Text: "mumble", Confidence: 0.2, IsFinal: true}, time.Now())
	if !errors.Is(err, ErrLowConfidenceDiscarded) {
		t.Fatalf("expected ErrLowConfidenceDiscarded, got %v", err)
	}
	if began {
		t.Fatalf("expected a discarded fragment not to begin an utterance")
	}
	if n.Buffered() != 0 {
		t.Fatalf("expected nothing buffered, got %d", n.Buffered())
	}
}

func TestNormalizerLowConfidenceFinalEndsUtterance(t *testing.T) {
	n := newNormalizer(0.4, 0)
	now := time.Now()

	if began, _ := n.Push(partialFragment("uh"), now); !began {
		t.Fatalf("expected the partial to begin an utterance")
	}
	if _, err := n.Push(finalFragment("uh huh", 0.1), now); !errors.Is(err, ErrLowConfidenceDiscarded) {
		t.Fatalf("expected ErrLowConfidenceDiscarded, got %v", err)
	}
	if n.InFlight() {
		t.Fatalf("expected the discarded final to close the utterance")
	}
	if got := n.Hypothesis(); got != "" {
		t.Fatalf("expected the hypothesis to be dropped, got %q", got)
	}
	if n.Buffered() != 0 {
		t.Fatalf("expected nothing buffered, got %d", n.Buffered())
	}
}

func TestNormalizerReportsUtteranceStartOnce(t *testing.T) {
	n := newNormalizer(0.4, 0)
	now := time.Now()

	began, _ := n.Push(partialFragment("I forgot"), now)
	if !began {
		t.Fatalf("expected the first partial to begin an utterance")
	}
	began, _ = n.Push(partialFragment("I forgot my"), now)
	if began {
		t.Fatalf("expected the second partial to continue the utterance")
	}
	if got := n.Hypothesis(); got != "I forgot my" {
		t.Fatalf("expected hypothesis to be replaced, got %q", got)
	}

	if _, err := n.Push(finalFragment("I forgot my password", 0.9), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.InFlight() {
		t.Fatalf("expected the final fragment to close the utterance")
	}

	began, _ = n.Push(partialFragment("and"), now)
	if !began {
		t.Fatalf("expected a partial after a final to begin a new utterance")
	}
}

func TestNormalizerEmptyFinalUsesLastHypothesis(t *testing.T) {
	n := newNormalizer(0.4, 0)
	now := time.Now()

	_, _ = n.Push(partialFragment("reset my password"), now)
	_, _ = n.Push(speechtotext.Fragment{IsFinal: true}, now)

	utterances := slices.Collect(n.Ready(now))
	if len(utterances) != 1 || utterances[0].Text != "reset my password" {
		t.Fatalf("expected the hypothesis to be finalized, got %+v", utterances)
	}
	if utterances[0].Speaker != calls.SpeakerCaller {
		t.Fatalf("expected caller speaker, got %q", utterances[0].Speaker)
	}
}

func TestNormalizerOrdersLateFragmentsWithinJitterWindow(t *testing.T) {
	n := newNormalizer(0.4, 100*time.Millisecond)
	base := time.Now()

	late := speechtotext.Fragment{Text: "second", Confidence: 0.9, IsFinal: true, StartedAt: base.Add(2 * time.Second)}
	early := speechtotext.Fragment{Text: "first", Confidence: 0.9, IsFinal: true, StartedAt: base.Add(time.Second)}

	_, _ = n.Push(late, base)
	_, _ = n.Push(early, base.Add(10*time.Millisecond))

	if ready := slices.Collect(n.Ready(base.Add(50 * time.Millisecond))); len(ready) != 0 {
		t.Fatalf("expected nothing released inside the jitter window, got %+v", ready)
	}

	ready := slices.Collect(n.Ready(base.Add(200 * time.Millisecond)))
	if len(ready) != 2 {
		t.Fatalf("expected two utterances, got %d", len(ready))
	}
	if ready[0].Text != "first" || ready[1].Text != "second" {
		t.Fatalf("expected start time order, got %q then %q", ready[0].Text, ready[1].Text)
	}
}

func TestNormalizerKeepsArrivalOrderForEqualStartTimes(t *testing.T) {
	n := newNormalizer(0.4, 0)
	startedAt := time.Now()

	for _, text := range []string{"one", "two", "three"} {
		_, _ = n.Push(speechtotext.Fragment{Text: text, Confidence: 0.9, IsFinal: true, StartedAt: startedAt}, startedAt)
	}

	var texts []string
	for utterance := range n.Flush() {
		texts = append(texts, utterance.Text)
	}
	if !slices.Equal(texts, []string{"one", "two", "three"}) {
		t.Fatalf("expected arrival order, got %v", texts)
	}
	if n.Buffered() != 0 {
		t.Fatalf("expected flush to empty the buffer")
	}
}

func TestNormalizerSpeechFinalSetsSpeechEnded(t *testing.T) {
	n := newNormalizer(0.4, 0)

	_, _ = n.Push(finalFragment("hello", 0.9), time.Now())
	if !n.TakeSpeechEnded() {
		t.Fatalf("expected speech ended after a speech final fragment")
	}
	if n.TakeSpeechEnded() {
		t.Fatalf("expected the signal to be consumed")
	}
}
