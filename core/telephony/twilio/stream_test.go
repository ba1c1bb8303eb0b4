package twilio

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-support/core"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []outboundMessage
}

func (w *recordingWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, v.(outboundMessage))
	return nil
}

func TestSinkMarksAndClear(t *testing.T) {
	writer := &recordingWriter{}
	sink := newSink("MZ1", writer)

	played := 0
	require.NoError(t, sink.SendAudio([]byte{1, 2, 3}))
	require.NoError(t, sink.Mark("m-1", func() { played++ }))
	require.NoError(t, sink.Mark("m-2", func() { played++ }))

	sink.played("m-1")
	sink.played("m-1")
	assert.Equal(t, 1, played)

	require.NoError(t, sink.Clear())
	sink.played("m-2")
	assert.Equal(t, 1, played, "cleared marks must not report playback")

	require.Len(t, writer.messages, 4)
	assert.Equal(t, eventMedia, writer.messages[0].Event)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), writer.messages[0].Media.Payload)
	assert.Equal(t, "m-1", writer.messages[1].Mark.Name)
	assert.Equal(t, eventClear, writer.messages[3].Event)
	assert.Equal(t, "MZ1", writer.messages[3].StreamSid)

	sink.close()
	assert.ErrorIs(t, sink.SendAudio([]byte{1}), errStreamClosed)
	assert.ErrorIs(t, sink.Mark("m-3", func() {}), errStreamClosed)
}

type callHandlerStub struct {
	mu      sync.Mutex
	info    orchestration.CallInfo
	sink    orchestration.AudioSink
	audio   [][]byte
	ended   []calls.CallID
	started chan struct{}
	endedCh chan struct{}
}

func newCallHandlerStub() *callHandlerStub {
	return &callHandlerStub{started: make(chan struct{}), endedCh: make(chan struct{}, 1)}
}

func (stub *callHandlerStub) StartCall(_ context.Context, info orchestration.CallInfo, sink orchestration.AudioSink) error {
	stub.mu.Lock()
	stub.info = info
	stub.sink = sink
	stub.mu.Unlock()
	close(stub.started)
	return nil
}

func (stub *callHandlerStub) ReceiveAudio(_ calls.CallID, audio []byte) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.audio = append(stub.audio, audio)
	return nil
}

func (stub *callHandlerStub) EndCall(callID calls.CallID) {
	stub.mu.Lock()
	stub.ended = append(stub.ended, callID)
	stub.mu.Unlock()
	stub.endedCh <- struct{}{}
}

func dialMediaStream(t *testing.T, handler *MediaStreamHandler) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMediaStreamDrivesCall(t *testing.T) {
	stub := newCallHandlerStub()
	conn := dialMediaStream(t, NewMediaStreamHandler(stub))

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":     "start",
		"streamSid": "MZ123",
		"start": map[string]any{
			"streamSid":        "MZ123",
			"callSid":          "CA123",
			"tracks":           []string{"inbound"},
			"customParameters": map[string]string{"from": "+15550100"},
			"mediaFormat":      map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	}))

	select {
	case <-stub.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the call to start")
	}
	stub.mu.Lock()
	assert.Equal(t, calls.CallID("CA123"), stub.info.CallID)
	assert.Equal(t, "MZ123", stub.info.Channel)
	assert.Equal(t, "+15550100", stub.info.PhoneNumber)
	sink := stub.sink
	stub.mu.Unlock()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":     "media",
		"streamSid": "MZ123",
		"media":     map[string]any{"track": "inbound", "payload": base64.StdEncoding.EncodeToString([]byte{0x7f, 0xff})},
	}))

	played := make(chan struct{})
	require.NoError(t, sink.SendAudio([]byte{0x01}))
	require.NoError(t, sink.Mark("speech-1", func() { close(played) }))

	var outbound outboundMessage
	require.NoError(t, conn.ReadJSON(&outbound))
	assert.Equal(t, eventMedia, outbound.Event)
	require.NoError(t, conn.ReadJSON(&outbound))
	require.Equal(t, eventMark, outbound.Event)
	assert.Equal(t, "speech-1", outbound.Mark.Name)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "mark", "streamSid": "MZ123", "mark": map[string]string{"name": "speech-1"}}))
	select {
	case <-played:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the mark callback")
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "stop", "streamSid": "MZ123", "stop": map[string]string{"callSid": "CA123"}}))
	select {
	case <-stub.endedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the call to end")
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, [][]byte{{0x7f, 0xff}}, stub.audio)
	assert.Equal(t, []calls.CallID{"CA123"}, stub.ended)
}

func TestDroppedConnectionEndsCall(t *testing.T) {
	stub := newCallHandlerStub()
	conn := dialMediaStream(t, NewMediaStreamHandler(stub))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ9", "callSid": "CA9"},
	}))
	<-stub.started
	require.NoError(t, conn.Close())

	select {
	case <-stub.endedCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the call to end")
	}
}

func TestConnectTwiML(t *testing.T) {
	response, err := ConnectTwiML(MediaStreamURL("support.example.com", "/media-stream"), "+15550100")
	require.NoError(t, err)

	assert.Contains(t, response, "<Connect>")
	assert.Contains(t, response, `url="wss://support.example.com/media-stream"`)
	assert.Contains(t, response, `name="from"`)
	assert.Contains(t, response, `value="+15550100"`)
}
