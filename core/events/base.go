package events

import (
	"time"

	"github.com/koscakluka/ema-support/core/calls"
)

type Kind string

type Event interface {
	Kind() Kind
	CallID() calls.CallID
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	callID    calls.CallID
	timestamp time.Time
}

func NewBase(kind Kind, callID calls.CallID) Base {
	return Base{kind: kind, callID: callID, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) CallID() calls.CallID {
	return b.callID
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
