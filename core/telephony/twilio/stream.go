// Package twilio bridges Twilio Media Streams to the call orchestrator: it
// answers the incoming-call webhook with TwiML and serves the media stream
// websocket of every call.
package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-support/core"
	"github.com/koscakluka/ema-support/core/calls"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CallerParameter is the custom stream parameter carrying the caller's
// number from the webhook to the media stream.
const CallerParameter = "from"

// CallHandler is the part of the orchestrator a media stream drives.
type CallHandler interface {
	StartCall(ctx context.Context, info orchestration.CallInfo, sink orchestration.AudioSink) error
	ReceiveAudio(callID calls.CallID, audio []byte) error
	EndCall(callID calls.CallID)
}

// MediaStreamHandler serves Twilio media stream websockets, one call per
// connection.
type MediaStreamHandler struct {
	calls    CallHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type HandlerOption func(*MediaStreamHandler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *MediaStreamHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewMediaStreamHandler(orchestrator CallHandler, opts ...HandlerOption) *MediaStreamHandler {
	handler := &MediaStreamHandler{
		calls: orchestrator,
		upgrader: websocket.Upgrader{
			// Twilio does not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(handler)
	}
	return handler
}

func (h *MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to upgrade media stream", "error", err)
		return
	}
	defer conn.Close()

	if err := h.Serve(context.WithoutCancel(r.Context()), conn); err != nil {
		h.logger.WarnContext(r.Context(), "media stream ended with error", "error", err)
	}
}

// Serve reads media stream messages from conn until Twilio stops the stream
// or the connection drops. Either way the call is ended.
func (h *MediaStreamHandler) Serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, span := tracer.Start(ctx, "twilio.media_stream", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	var (
		callID calls.CallID
		sink   *Sink
	)
	endCall := func() {
		if sink != nil {
			sink.close()
		}
		if callID != "" {
			h.calls.EndCall(callID)
		}
	}
	defer endCall()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to read media stream: %w", err)
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.DebugContext(ctx, "ignoring malformed media stream message", "error", err)
			continue
		}

		switch msg.Event {
		case eventConnected, eventDTMF:

		case eventStart:
			if msg.Start == nil || callID != "" {
				continue
			}
			callID = calls.CallID(msg.Start.CallSid)
			if callID == "" {
				callID = calls.CallID(msg.Start.StreamSid)
			}
			span.SetAttributes(attribute.String("call.id", callID.String()))

			sink = newSink(msg.Start.StreamSid, conn)
			info := orchestration.CallInfo{
				CallID:      callID,
				Channel:     msg.Start.StreamSid,
				PhoneNumber: msg.Start.CustomParameters[CallerParameter],
			}
			if err := h.calls.StartCall(ctx, info, sink); err != nil {
				if errors.Is(err, orchestration.ErrDuplicateSession) {
					// Someone else owns the call; do not end it on their behalf.
					callID = ""
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("failed to start call: %w", err)
			}
			h.logger.InfoContext(ctx, "media stream started", "call_id", callID.String(), "stream_sid", msg.Start.StreamSid)

		case eventMedia:
			if callID == "" || msg.Media == nil {
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != inboundTrack {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.logger.DebugContext(ctx, "ignoring undecodable media payload", "error", err)
				continue
			}
			if err := h.calls.ReceiveAudio(callID, audio); err != nil {
				h.logger.DebugContext(ctx, "failed to forward caller audio", "call_id", callID.String(), "error", err)
			}

		case eventMark:
			if sink != nil && msg.Mark != nil {
				sink.played(msg.Mark.Name)
			}

		case eventStop:
			h.logger.InfoContext(ctx, "media stream stopped", "call_id", callID.String())
			return nil

		default:
			h.logger.DebugContext(ctx, "ignoring unknown media stream event", "event", msg.Event)
		}
	}
}
