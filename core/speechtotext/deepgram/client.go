package deepgram

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

// TranscriptionClient streams one call's audio to Deepgram live
// transcription. A client serves a single Transcribe stream.
type TranscriptionClient struct {
	apiKey   string
	model    string
	language string
	endpoint string
	dialer   *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.Mutex

	streamStartedAt time.Time
	lastMsgTs       time.Time
	unendedSegment  bool
	cancel          context.CancelFunc
}

type ClientOption func(*TranscriptionClient)

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

// WithEndpoint overrides the listen websocket URL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *TranscriptionClient) { c.endpoint = endpoint }
}

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		apiKey:   apiKey,
		model:    "nova-3",
		language: "en-US",
		endpoint: defaultListenURL,
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}
