package audio

import (
	"testing"
	"time"
)

func TestTelephonyEncodingDuration(t *testing.T) {
	info := GetTelephonyEncodingInfo()

	if got := info.Duration(160); got != 20*time.Millisecond {
		t.Fatalf("expected 160 mulaw bytes to last 20ms, got %s", got)
	}
	if got := info.SilenceValue(); got != 0xFF {
		t.Fatalf("expected mulaw silence 0xFF, got %#x", got)
	}
}

func TestLinear16Duration(t *testing.T) {
	info := EncodingInfo{SampleRate: 16000, Format: EncodingLinear16}

	if got := info.Duration(32000); got != time.Second {
		t.Fatalf("expected one second, got %s", got)
	}
	if (EncodingInfo{}).Duration(100) != 0 {
		t.Fatalf("expected zero duration for unset encoding")
	}
}
