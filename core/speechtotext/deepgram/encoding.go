package deepgram

import (
	"errors"
	"fmt"
	"slices"

	"github.com/koscakluka/ema-support/core/audio"
)

var (
	errUnsupportedSampleRate = errors.New("unsupported sample rate")
	errUnsupportedEncoding   = errors.New("unsupported encoding")
)

var supportedSampleRates = []int{8000, 16000, 24000, 32000, 48000}

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// convertEncoding maps an audio encoding onto the listen API parameters. The
// G.711 companded formats are only accepted at telephony rate.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	if !slices.Contains(supportedSampleRates, encoding.SampleRate) {
		return nil, fmt.Errorf("%w: %d", errUnsupportedSampleRate, encoding.SampleRate)
	}

	converted := encodingInfo{SampleRate: encoding.SampleRate}
	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.Format = encodingLinear16
	case audio.EncodingALaw:
		converted.Format = encodingALaw
	case audio.EncodingMulaw:
		converted.Format = encodingMulaw
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, encoding.Format.Name())
	}

	if converted.Format != encodingLinear16 && converted.SampleRate != audio.TelephonySampleRate {
		return nil, fmt.Errorf("%w: %s requires %d", errUnsupportedSampleRate, converted.Format, audio.TelephonySampleRate)
	}

	return &converted, nil
}
