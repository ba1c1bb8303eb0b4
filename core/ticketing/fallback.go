package ticketing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-support/core/calls"
)

// FallbackEntry is a ticket payload waiting to be replayed.
type FallbackEntry struct {
	ID          string       `json:"id"`
	CallID      calls.CallID `json:"call_id"`
	Payload     Payload      `json:"payload"`
	Reason      string       `json:"reason"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	TicketID    string       `json:"ticket_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
	ClaimedAt   *time.Time   `json:"claimed_at,omitempty"`
}

// ClaimLease is how long a claim holds before another replayer may take the
// entry over. It covers replayers that stopped between Claim and MarkDelivered.
const ClaimLease = 10 * time.Minute

// FallbackStore durably keeps payloads the ticketing system did not accept.
type FallbackStore interface {
	Enqueue(ctx context.Context, payload Payload, reason string) (FallbackEntry, error)
	// Pending lists undelivered entries, oldest first. A limit of zero or
	// less lists all of them.
	Pending(ctx context.Context, limit int) ([]FallbackEntry, error)
	// Claim reserves an undelivered entry for one delivery attempt. It fails
	// with ErrClaimed when the entry is delivered or held by another claim
	// younger than ClaimLease.
	Claim(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id, ticketID string) error
	// RecordFailure counts a failed attempt and releases the claim.
	RecordFailure(ctx context.Context, id string, cause error) error
}

// MemoryFallbackStore keeps entries in process memory. It is only durable
// for the life of the process and backs tests and development setups.
type MemoryFallbackStore struct {
	mu      sync.Mutex
	entries []FallbackEntry
	now     func() time.Time
}

func NewMemoryFallbackStore() *MemoryFallbackStore {
	return &MemoryFallbackStore{now: time.Now}
}

func (s *MemoryFallbackStore) Enqueue(_ context.Context, payload Payload, reason string) (FallbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := FallbackEntry{
		ID:        uuid.NewString(),
		CallID:    calls.CallID(payload.CallID),
		Payload:   payload,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *MemoryFallbackStore) Pending(_ context.Context, limit int) ([]FallbackEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []FallbackEntry
	for _, entry := range s.entries {
		if entry.DeliveredAt != nil {
			continue
		}
		pending = append(pending, entry)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *MemoryFallbackStore) Claim(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.entries, func(entry FallbackEntry) bool { return entry.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	entry := &s.entries[i]
	now := s.now()
	if entry.DeliveredAt != nil || (entry.ClaimedAt != nil && now.Sub(*entry.ClaimedAt) < ClaimLease) {
		return ErrClaimed
	}
	entry.ClaimedAt = &now
	entry.UpdatedAt = now
	return nil
}

func (s *MemoryFallbackStore) MarkDelivered(_ context.Context, id, ticketID string) error {
	return s.update(id, func(entry *FallbackEntry) {
		now := s.now()
		entry.TicketID = ticketID
		entry.DeliveredAt = &now
		entry.UpdatedAt = now
	})
}

func (s *MemoryFallbackStore) RecordFailure(_ context.Context, id string, cause error) error {
	return s.update(id, func(entry *FallbackEntry) {
		entry.Attempts++
		entry.ClaimedAt = nil
		if cause != nil {
			entry.LastError = cause.Error()
		}
		entry.UpdatedAt = s.now()
	})
}

func (s *MemoryFallbackStore) update(id string, apply func(*FallbackEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.entries, func(entry FallbackEntry) bool { return entry.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	apply(&s.entries[i])
	return nil
}
