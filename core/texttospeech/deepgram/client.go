package deepgram

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-support/core/audio"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

// TextToSpeechClient opens one Deepgram speak websocket per generated
// response.
type TextToSpeechClient struct {
	apiKey       string
	endpoint     string
	voice        deepgramVoice
	encodingInfo audio.EncodingInfo
	dialer       *websocket.Dialer
}

type ClientOption func(*TextToSpeechClient)

// WithVoice selects the Aura voice used for every generation.
func WithVoice(voice deepgramVoice) ClientOption {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

// WithEndpoint overrides the speak websocket URL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *TextToSpeechClient) { c.endpoint = endpoint }
}

// WithEncoding sets the default output encoding. Generators may override it.
func WithEncoding(encodingInfo audio.EncodingInfo) ClientOption {
	return func(c *TextToSpeechClient) { c.encodingInfo = encodingInfo }
}

func NewTextToSpeechClient(apiKey string, opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{
		apiKey:       apiKey,
		endpoint:     defaultSpeakURL,
		voice:        defaultVoice,
		encodingInfo: audio.GetTelephonyEncodingInfo(),
		dialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}

	if _, ok := ParseVoice(string(client.voice)); !ok {
		return nil, fmt.Errorf("invalid voice %q", client.voice)
	}
	if client.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not set")
	}

	return client, nil
}
