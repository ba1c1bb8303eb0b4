package orchestration

import (
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/speechtotext"
)

type pendingUtterance struct {
	utterance  calls.Utterance
	receivedAt time.Time
}

// normalizer turns raw recognition fragments into finalized caller
// utterances. It belongs to a single session worker and is not safe for
// concurrent use.
type normalizer struct {
	minConfidence float64
	jitter        time.Duration

	hypothesis string
	inFlight   bool
	// pending is kept sorted by start time.
	pending []pendingUtterance

	speechEnded bool
}

func newNormalizer(minConfidence float64, jitter time.Duration) *normalizer {
	return &normalizer{minConfidence: minConfidence, jitter: jitter}
}

// Push takes one fragment received at now. began reports that the fragment
// opened a new caller utterance. Fragments under the minimum confidence are
// dropped with ErrLowConfidenceDiscarded.
func (n *normalizer) Push(fragment speechtotext.Fragment, now time.Time) (began bool, err error) {
	text := strings.TrimSpace(fragment.Text)
	if text == "" && !fragment.IsFinal {
		return false, nil
	}
	if text != "" && fragment.Confidence < n.minConfidence {
		// A discarded final still ends the utterance.
		if fragment.IsFinal {
			n.inFlight = false
			n.hypothesis = ""
		}
		return false, ErrLowConfidenceDiscarded
	}

	if !n.inFlight {
		n.inFlight = true
		began = true
	}

	if !fragment.IsFinal {
		n.hypothesis = text
		return began, nil
	}

	// An empty final closes the utterance with whatever was last heard.
	if text == "" {
		text = n.hypothesis
	}
	n.hypothesis = ""
	n.inFlight = false
	if fragment.SpeechFinal {
		n.speechEnded = true
	}
	if text == "" {
		return false, nil
	}

	speaker := calls.Speaker(fragment.Speaker)
	if speaker == "" {
		speaker = calls.SpeakerCaller
	}
	startedAt, endedAt := fragment.StartedAt, fragment.EndedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	if endedAt.IsZero() {
		endedAt = now
	}

	item := pendingUtterance{
		utterance: calls.Utterance{
			ID:         uuid.NewString(),
			Speaker:    speaker,
			Text:       text,
			StartedAt:  startedAt,
			EndedAt:    endedAt,
			Confidence: fragment.Confidence,
			IsFinal:    true,
		},
		receivedAt: now,
	}
	i, _ := slices.BinarySearchFunc(n.pending, item, func(a, b pendingUtterance) int {
		// Equal start times keep their arrival order.
		if a.utterance.StartedAt.After(b.utterance.StartedAt) {
			return 1
		}
		return -1
	})
	n.pending = slices.Insert(n.pending, i, item)
	return began, nil
}

// Hypothesis is the latest partial text of the utterance in flight.
func (n *normalizer) Hypothesis() string { return n.hypothesis }

// InFlight reports whether the caller is in the middle of an utterance that
// has not been finalized yet.
func (n *normalizer) InFlight() bool { return n.inFlight }

// SpeechEnded records an end of speech signal from the recognizer.
func (n *normalizer) SpeechEnded() { n.speechEnded = true }

// TakeSpeechEnded reports and resets the end of speech signal.
func (n *normalizer) TakeSpeechEnded() bool {
	ended := n.speechEnded
	n.speechEnded = false
	return ended
}

// Ready yields, in order, the finalized utterances whose jitter window has
// passed. Yielded utterances are removed from the buffer.
func (n *normalizer) Ready(now time.Time) iter.Seq[calls.Utterance] {
	return func(yield func(calls.Utterance) bool) {
		for len(n.pending) > 0 {
			head := n.pending[0]
			if now.Sub(head.receivedAt) < n.jitter {
				return
			}
			n.pending = n.pending[1:]
			if !yield(head.utterance) {
				return
			}
		}
	}
}

// Flush yields every buffered utterance regardless of the jitter window.
func (n *normalizer) Flush() iter.Seq[calls.Utterance] {
	return func(yield func(calls.Utterance) bool) {
		for len(n.pending) > 0 {
			head := n.pending[0]
			n.pending = n.pending[1:]
			if !yield(head.utterance) {
				return
			}
		}
	}
}

func (n *normalizer) Buffered() int { return len(n.pending) }
