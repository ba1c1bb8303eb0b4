package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-support/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	errRequestClosed    = errors.New("streaming request closed")
	errRequestCancelled = errors.New("streaming request cancelled")
	errTextCompleted    = errors.New("streaming request text already completed")
)

type streamingRequest struct {
	ws   *websocket.Conn
	wsMu sync.Mutex

	mu sync.Mutex
	// textBuffer holds the text between marks. The head segment is the one
	// Deepgram is currently generating.
	textBuffer   []string
	textComplete bool
	cancelled    bool
	closed       bool
	report       texttospeech.SpeechEndedReport

	options texttospeech.TextToSpeechOptions
}

func (c *TextToSpeechClient) NewSpeechGeneratorV0(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGeneratorV0, error) {
	ctx, span := tracer.Start(ctx, "deepgram.speak")
	defer span.End()

	req := &streamingRequest{
		options: texttospeech.TextToSpeechOptions{
			SpeechAudioCallback:   func([]byte) {},
			SpeechMarkCallback:    func(string) {},
			SpeechEndedCallbackV0: func(texttospeech.SpeechEndedReport) {},
			ErrorCallback:         func(error) {},
			EncodingInfo:          c.encodingInfo,
		},
	}
	for _, opt := range opts {
		opt(&req.options)
	}
	span.SetAttributes(
		attribute.String("deepgram.voice", string(c.voice)),
		attribute.String("deepgram.encoding", req.options.EncodingInfo.Format.Name()),
	)

	var err error
	if req.ws, err = c.connectWebsocket(ctx, req.options); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go req.processIncomingMessages()

	return req, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, options texttospeech.TextToSpeechOptions) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid speak endpoint: %w", err)
	}

	urlValues := speakURL.Query()
	urlValues.Set("encoding", options.EncodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	urlValues.Set("container", "none")
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (r *streamingRequest) processIncomingMessages() {
	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			r.mu.Lock()
			finished := r.closed || r.cancelled
			r.mu.Unlock()
			if !finished && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("deepgram speak websocket read failed", "error", err)
				r.options.ErrorCallback(err)
			}
			_ = r.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				r.options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram speak message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				r.onFlushed()
			case "Warning":
				logger.Warn("deepgram speak warning", "description", parsedMsg.Description)
			case "Error":
				err := fmt.Errorf("deepgram speak error: %s", parsedMsg.Description)
				r.options.ErrorCallback(err)
				_ = r.Close()
				return
			}
		}
	}
}

// onFlushed reports the head segment as generated and moves on to the next.
func (r *streamingRequest) onFlushed() {
	r.mu.Lock()
	if r.closed || r.cancelled || len(r.textBuffer) == 0 {
		r.mu.Unlock()
		return
	}

	mark := r.textBuffer[0]
	r.textBuffer = r.textBuffer[1:]
	r.report.Text += mark
	r.report.Marks++

	ended := r.textComplete && (len(r.textBuffer) == 0 || len(r.textBuffer) == 1 && r.textBuffer[0] == "")
	var next string
	flush := false
	if ended {
		r.textBuffer = nil
	} else if len(r.textBuffer) > 0 {
		next = r.textBuffer[0]
		flush = r.textComplete || len(r.textBuffer) > 1
	}
	report := r.report
	r.mu.Unlock()

	r.options.SpeechMarkCallback(mark)
	if ended {
		r.options.SpeechEndedCallbackV0(report)
		_ = r.Close()
		return
	}

	// Deepgram sometimes drops text passed right after a flush, so the next
	// segment is only sent once the previous flush is confirmed.
	if next != "" {
		if err := r.sendWebsocketMessage(sendTextMsg(next)); err != nil {
			logger.Warn("failed to send deepgram text", "error", err)
		}
	}
	if flush {
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			logger.Warn("failed to flush deepgram buffer", "error", err)
		}
	}
}

func (r *streamingRequest) usable() error {
	switch {
	case r.closed:
		return errRequestClosed
	case r.cancelled:
		return errRequestCancelled
	case r.textComplete:
		return errTextCompleted
	}
	return nil
}

func (r *streamingRequest) SendText(text string) error {
	r.mu.Lock()
	if err := r.usable(); err != nil {
		r.mu.Unlock()
		return err
	}
	if len(r.textBuffer) == 0 {
		r.textBuffer = append(r.textBuffer, "")
	}
	sendNow := len(r.textBuffer) == 1
	r.textBuffer[len(r.textBuffer)-1] += text
	r.mu.Unlock()

	if sendNow && strings.TrimSpace(text) != "" {
		if err := r.sendWebsocketMessage(sendTextMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket send text message: %w", err)
		}
	}
	return nil
}

func (r *streamingRequest) Mark() error {
	r.mu.Lock()
	if err := r.usable(); err != nil {
		r.mu.Unlock()
		return err
	}
	if len(r.textBuffer) == 0 || r.textBuffer[len(r.textBuffer)-1] == "" {
		r.mu.Unlock()
		return nil
	}
	flushNow := len(r.textBuffer) == 1
	r.textBuffer = append(r.textBuffer, "")
	r.mu.Unlock()

	if flushNow {
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}
	return nil
}

func (r *streamingRequest) EndOfText() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRequestClosed
	} else if r.cancelled {
		r.mu.Unlock()
		return errRequestCancelled
	} else if r.textComplete {
		r.mu.Unlock()
		return nil
	}

	r.textComplete = true
	ended := len(r.textBuffer) == 0 || len(r.textBuffer) == 1 && r.textBuffer[0] == ""
	flushOpenHead := len(r.textBuffer) == 1 && !ended
	report := r.report
	r.mu.Unlock()

	if ended {
		r.options.SpeechEndedCallbackV0(report)
		return r.Close()
	}
	if flushOpenHead {
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}
	return nil
}

func (r *streamingRequest) Cancel() error {
	r.mu.Lock()
	if r.closed || r.cancelled {
		r.mu.Unlock()
		return nil
	}
	r.cancelled = true
	r.mu.Unlock()

	err := r.sendWebsocketMessage(clearMsg)
	return errors.Join(err, r.Close())
}

func (r *streamingRequest) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.sendWebsocketMessage(closeMsg); err != nil {
		if aggressiveCloseErr := r.ws.Close(); aggressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, aggressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func sendTextMsg(text string) websocketMessage {
	return websocketMessage{Type: "Speak", Text: text}
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (r *streamingRequest) sendWebsocketMessage(msg websocketMessage) error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
