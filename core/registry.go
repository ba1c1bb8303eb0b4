package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/koscakluka/ema-support/core/calls"
	"go.opentelemetry.io/otel/metric"
)

// Registry is the process wide table of live sessions. Its lock only guards
// the table; session state stays with each session's worker.
type Registry struct {
	mu       sync.Mutex
	sessions map[calls.CallID]*Session

	idleCeiling   time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	active metric.Int64UpDownCounter
	forced metric.Int64Counter
}

func NewRegistry(idleCeiling, sweepInterval time.Duration, logger *slog.Logger) *Registry {
	registry := &Registry{
		sessions:      map[calls.CallID]*Session{},
		idleCeiling:   idleCeiling,
		sweepInterval: sweepInterval,
		now:           time.Now,
		logger:        logger,
	}
	registry.active, _ = meter.Int64UpDownCounter("sessions.active",
		metric.WithDescription("Live call sessions"))
	registry.forced, _ = meter.Int64Counter("sessions.idle_forced",
		metric.WithDescription("Sessions closed for exceeding the idle ceiling"))
	return registry
}

// Create registers the session built by build under callID. It fails with
// ErrDuplicateSession while another session for callID is live; build is not
// called in that case.
func (r *Registry) Create(callID calls.CallID, build func() *Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[callID]; ok {
		return nil, ErrDuplicateSession
	}
	session := build()
	previous := session.onDone
	session.onDone = func(s *Session) {
		r.Remove(s.ID(), s)
		previous(s)
	}
	r.sessions[callID] = session
	r.active.Add(context.Background(), 1)
	return session, nil
}

func (r *Registry) Get(callID calls.CallID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[callID]
	return session, ok
}

// Remove unregisters session if it is still the one registered for callID.
// A nil session removes whatever is registered.
func (r *Registry) Remove(callID calls.CallID, session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[callID]
	if !ok || session != nil && current != session {
		return false
	}
	delete(r.sessions, callID)
	r.active.Add(context.Background(), -1)
	return true
}

// List returns the live sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int { return a.createdAt.Compare(b.createdAt) })
	return sessions
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep forces every session idle for longer than the ceiling to close and
// returns how many it forced.
func (r *Registry) Sweep() int {
	now := r.now()
	forced := 0
	for _, session := range r.List() {
		idle := now.Sub(session.LastActivity())
		if idle < r.idleCeiling {
			continue
		}
		r.logger.Warn("closing idle session", "call_id", session.ID().String(), "idle", idle.String())
		session.Terminate(calls.CauseIdleCeiling)
		forced++
	}
	if forced > 0 {
		r.forced.Add(context.Background(), int64(forced))
	}
	return forced
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown closes every live session and waits for their tickets.
func (r *Registry) Shutdown(ctx context.Context) error {
	sessions := r.List()
	for _, session := range sessions {
		session.Terminate(calls.CauseShutdown)
	}

	for _, session := range sessions {
		if err := session.Wait(ctx); err != nil {
			return fmt.Errorf("session %s did not finish: %w", session.ID(), err)
		}
	}
	return nil
}
