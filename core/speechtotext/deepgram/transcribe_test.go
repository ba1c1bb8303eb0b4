package deepgram

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-support/core/audio"
	"github.com/koscakluka/ema-support/core/speechtotext"
)

func TestConvertEncodingAcceptsTelephonyMulaw(t *testing.T) {
	encoding, err := convertEncoding(audio.GetTelephonyEncodingInfo())
	if err != nil {
		t.Fatalf("expected telephony encoding to be supported, got %v", err)
	}
	if encoding.Format != encodingMulaw || encoding.SampleRate != 8000 {
		t.Fatalf("unexpected encoding %+v", encoding)
	}
}

func TestConvertEncodingRejectsWideband(t *testing.T) {
	_, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw})
	if !errors.Is(err, errUnsupportedSampleRate) {
		t.Fatalf("expected unsupported sample rate, got %v", err)
	}

	_, err = convertEncoding(audio.EncodingInfo{SampleRate: 11025, Format: audio.EncodingLinear16})
	if !errors.Is(err, errUnsupportedSampleRate) {
		t.Fatalf("expected unsupported sample rate, got %v", err)
	}
}

func TestProcessMessageDeliversFragmentsInOrder(t *testing.T) {
	client := NewTranscriptionClient("key")
	client.streamStartedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var fragments []speechtotext.Fragment
	speechEnded := atomic.Int32{}
	options := speechtotext.TranscriptionOptions{
		FragmentCallback:    func(f speechtotext.Fragment) { fragments = append(fragments, f) },
		SpeechEndedCallback: func() { speechEnded.Add(1) },
	}

	client.processMessage([]byte(`{"type":"Results","start":1.5,"duration":0.5,"is_final":false,"speech_final":false,"channel":{"alternatives":[{"transcript":"i forgot","confidence":0.6}]}}`), options)
	client.processMessage([]byte(`{"type":"Results","start":1.5,"duration":1.0,"is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":" i forgot my password ","confidence":0.93}]}}`), options)

	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
	if fragments[0].IsFinal {
		t.Fatalf("expected first fragment to be partial")
	}
	final := fragments[1]
	if !final.IsFinal || !final.SpeechFinal {
		t.Fatalf("expected final fragment with speech final, got %+v", final)
	}
	if final.Text != "i forgot my password" {
		t.Fatalf("expected trimmed transcript, got %q", final.Text)
	}
	if final.Speaker != "caller" {
		t.Fatalf("expected caller speaker, got %q", final.Speaker)
	}
	if want := client.streamStartedAt.Add(1500 * time.Millisecond); !final.StartedAt.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, final.StartedAt)
	}
	if want := client.streamStartedAt.Add(2500 * time.Millisecond); !final.EndedAt.Equal(want) {
		t.Fatalf("expected end %s, got %s", want, final.EndedAt)
	}
	if got := speechEnded.Load(); got != 1 {
		t.Fatalf("expected speech ended once, got %d", got)
	}
}

func TestProcessMessageUtteranceEndOnlyAfterSpeech(t *testing.T) {
	client := NewTranscriptionClient("key")

	speechEnded := atomic.Int32{}
	speechStarted := atomic.Int32{}
	options := speechtotext.TranscriptionOptions{
		FragmentCallback:      func(speechtotext.Fragment) {},
		SpeechStartedCallback: func() { speechStarted.Add(1) },
		SpeechEndedCallback:   func() { speechEnded.Add(1) },
	}

	client.processMessage([]byte(`{"type":"UtteranceEnd","last_word_end":1.0}`), options)
	if got := speechEnded.Load(); got != 0 {
		t.Fatalf("expected no speech end without speech, got %d", got)
	}

	client.processMessage([]byte(`{"type":"SpeechStarted","timestamp":0.1}`), options)
	client.processMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`), options)
	client.processMessage([]byte(`{"type":"UtteranceEnd","last_word_end":1.0}`), options)

	if got := speechStarted.Load(); got != 1 {
		t.Fatalf("expected speech started once, got %d", got)
	}
	if got := speechEnded.Load(); got != 1 {
		t.Fatalf("expected speech ended once, got %d", got)
	}
}

func TestSendAudioWithoutStreamFails(t *testing.T) {
	client := NewTranscriptionClient("key")
	if err := client.SendAudio([]byte{0xFF}); err == nil {
		t.Fatalf("expected error without open stream")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("expected close without stream to succeed, got %v", err)
	}
}
