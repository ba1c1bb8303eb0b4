package events

import "github.com/koscakluka/ema-support/core/calls"

const (
	// KindCallStarted identifies a call connected by the transport.
	KindCallStarted Kind = "call_transport.started"
	// KindCallHungUp identifies the end of the transport connection.
	KindCallHungUp Kind = "call_transport.hung_up"
)

// CallStarted marks the transport connecting a call.
type CallStarted struct {
	Base
	Channel     string
	PhoneNumber string
}

// NewCallStarted creates a call started event.
func NewCallStarted(callID calls.CallID, channel, phoneNumber string) CallStarted {
	return CallStarted{Base: NewBase(KindCallStarted, callID), Channel: channel, PhoneNumber: phoneNumber}
}

// CallHungUp marks the caller hanging up.
type CallHungUp struct{ Base }

// NewCallHungUp creates a call hung up event.
func NewCallHungUp(callID calls.CallID) CallHungUp {
	return CallHungUp{Base: NewBase(KindCallHungUp, callID)}
}
