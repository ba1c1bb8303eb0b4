package orchestration

import (
	"sync"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/speechtotext"
)

type message interface{ isMessage() }

type fragmentMessage struct {
	fragment   speechtotext.Fragment
	receivedAt time.Time
}

type callerSpeechStartedMessage struct{ at time.Time }

type callerSpeechEndedMessage struct{ at time.Time }

type gateResultMessage struct {
	attempt calls.AnswerAttempt
}

type speechFinishedMessage struct {
	handle *SpeechHandle
}

type issueSummaryMessage struct {
	summary string
}

type terminateMessage struct {
	trigger trigger
}

func (fragmentMessage) isMessage()            {}
func (callerSpeechStartedMessage) isMessage() {}
func (callerSpeechEndedMessage) isMessage()   {}
func (gateResultMessage) isMessage()          {}
func (speechFinishedMessage) isMessage()      {}
func (issueSummaryMessage) isMessage()        {}
func (terminateMessage) isMessage()           {}

// mailbox is an unbounded FIFO drained by a single session worker. Posting
// never blocks, so transports and collaborators are never held up by a busy
// session.
type mailbox struct {
	mu     sync.Mutex
	items  []message
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// Post queues msg and reports false once the mailbox is closed.
func (m *mailbox) Post(msg message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Signal fires whenever messages may be waiting.
func (m *mailbox) Signal() <-chan struct{} { return m.signal }

// Drain takes every queued message in arrival order.
func (m *mailbox) Drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Close rejects further posts and returns what was still queued.
func (m *mailbox) Close() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
