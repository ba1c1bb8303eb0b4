package events

import "github.com/koscakluka/ema-support/core/calls"

const (
	// KindTicketSubmitted identifies a ticket accepted by the ticketing system.
	KindTicketSubmitted Kind = "ticket.submitted"
	// KindTicketQueued identifies a ticket persisted for later replay.
	KindTicketQueued Kind = "ticket.queued"
)

// TicketSubmitted carries the identifier assigned by the ticketing system.
type TicketSubmitted struct {
	Base
	TicketID   string
	Resolution calls.Resolution
}

// NewTicketSubmitted creates a ticket submitted event.
func NewTicketSubmitted(callID calls.CallID, ticketID string, resolution calls.Resolution) TicketSubmitted {
	return TicketSubmitted{Base: NewBase(KindTicketSubmitted, callID), TicketID: ticketID, Resolution: resolution}
}

// TicketQueued carries the fallback entry a ticket was persisted under.
type TicketQueued struct {
	Base
	EntryID    string
	Resolution calls.Resolution
	Reason     string
}

// NewTicketQueued creates a ticket queued event.
func NewTicketQueued(callID calls.CallID, entryID string, resolution calls.Resolution, reason string) TicketQueued {
	return TicketQueued{Base: NewBase(KindTicketQueued, callID), EntryID: entryID, Resolution: resolution, Reason: reason}
}
