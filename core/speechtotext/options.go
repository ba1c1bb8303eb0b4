package speechtotext

import (
	"time"

	"github.com/koscakluka/ema-support/core/audio"
)

// Fragment is one raw recognition result. Partial fragments are hypotheses
// that later fragments may revise; a final fragment fixes the text of the
// span it covers.
type Fragment struct {
	Speaker    string
	Text       string
	Confidence float64
	StartedAt  time.Time
	EndedAt    time.Time
	IsFinal    bool
	// SpeechFinal is set when the recognizer also detected the end of the
	// speaker's utterance with this fragment.
	SpeechFinal bool
}

type TranscriptionOptions struct {
	// FragmentCallback receives every partial and final fragment in the order
	// the recognizer produced them.
	FragmentCallback func(Fragment)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()
	// ErrorCallback is called when the recognition stream fails and no more
	// fragments will be delivered.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithFragmentCallback(callback func(Fragment)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.FragmentCallback = callback
	}
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechStartedCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithErrorCallback(callback func(error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
