package twilio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

var errStreamClosed = errors.New("media stream closed")

// jsonWriter is the write side of a media stream connection.
type jsonWriter interface {
	WriteJSON(v any) error
}

// Sink sends agent audio to one Twilio media stream. Marks are reported back
// by Twilio once the audio before them has been played to the caller.
type Sink struct {
	streamSid string

	writeMu sync.Mutex
	conn    jsonWriter

	mu     sync.Mutex
	marks  map[string]func()
	closed bool
}

func newSink(streamSid string, conn jsonWriter) *Sink {
	return &Sink{
		streamSid: streamSid,
		conn:      conn,
		marks:     map[string]func(){},
	}
}

func (s *Sink) SendAudio(audio []byte) error {
	return s.write(outboundMessage{
		Event:     eventMedia,
		StreamSid: s.streamSid,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

func (s *Sink) Mark(name string, onPlayed func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStreamClosed
	}
	s.marks[name] = onPlayed
	s.mu.Unlock()

	if err := s.write(outboundMessage{Event: eventMark, StreamSid: s.streamSid, Mark: &markPayload{Name: name}}); err != nil {
		s.mu.Lock()
		delete(s.marks, name)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Clear drops buffered audio on Twilio's side. Twilio still echoes the
// dropped marks; they no longer have callbacks and are ignored.
func (s *Sink) Clear() error {
	s.mu.Lock()
	clear(s.marks)
	s.mu.Unlock()

	return s.write(outboundMessage{Event: eventClear, StreamSid: s.streamSid})
}

// played runs the callback of a mark Twilio reported as played.
func (s *Sink) played(name string) {
	s.mu.Lock()
	onPlayed, ok := s.marks[name]
	delete(s.marks, name)
	s.mu.Unlock()

	if ok && onPlayed != nil {
		onPlayed()
	}
}

func (s *Sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.marks)
}

func (s *Sink) write(msg outboundMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errStreamClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s to media stream: %w", msg.Event, err)
	}
	return nil
}
