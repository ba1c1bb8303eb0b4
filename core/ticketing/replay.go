package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Replayer resubmits queued payloads to the ticketing system. Replays through
// one Replayer run one at a time; replayers sharing a store are kept apart by
// the store's claims.
type Replayer struct {
	mu sync.Mutex

	store  FallbackStore
	client Client
	logger *slog.Logger

	replayed metric.Int64Counter
}

type ReplayerOption func(*Replayer)

func WithReplayLogger(logger *slog.Logger) ReplayerOption {
	return func(r *Replayer) { r.logger = logger }
}

func NewReplayer(store FallbackStore, client Client, opts ...ReplayerOption) *Replayer {
	replayer := &Replayer{store: store, client: client, logger: logger}
	for _, opt := range opts {
		opt(replayer)
	}
	replayer.replayed, _ = meter.Int64Counter("ticketing.replay.delivered",
		metric.WithDescription("Queued tickets delivered by replay"))
	return replayer
}

type ReplayedEntry struct {
	EntryID  string `json:"entry_id"`
	CallID   string `json:"call_id"`
	TicketID string `json:"ticket_id"`
}

type ReplayReport struct {
	Delivered []ReplayedEntry `json:"delivered"`
	Failed    int             `json:"failed"`
	// Skipped counts entries another replayer had already claimed.
	Skipped int `json:"skipped"`
	// Stopped is set when replay gave up early because the ticketing system
	// is still unavailable.
	Stopped bool `json:"stopped"`
}

// Replay delivers up to limit pending entries in the order they were queued.
// Each entry is sent with its stored payload unchanged.
func (r *Replayer) Replay(ctx context.Context, limit int) (ReplayReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "ticketing.replay")
	defer span.End()

	var report ReplayReport
	pending, err := r.store.Pending(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("failed to list pending tickets: %w", err)
	}

	var errs []error
	for _, entry := range pending {
		if err := r.store.Claim(ctx, entry.ID); err != nil {
			if errors.Is(err, ErrClaimed) {
				report.Skipped++
				continue
			}
			errs = append(errs, fmt.Errorf("failed to claim entry %s: %w", entry.ID, err))
			continue
		}

		ticketID, err := r.client.CreateTicket(ctx, entry.Payload)
		if err != nil {
			report.Failed++
			if recordErr := r.store.RecordFailure(ctx, entry.ID, err); recordErr != nil {
				errs = append(errs, recordErr)
			}
			r.logger.WarnContext(ctx, "replaying queued ticket failed", "entry_id", entry.ID, "call_id", entry.CallID, "error", err)
			if errors.Is(err, ErrUnavailable) {
				report.Stopped = true
				break
			}
			continue
		}

		if err := r.store.MarkDelivered(ctx, entry.ID, ticketID); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark entry %s delivered: %w", entry.ID, err))
		}
		r.replayed.Add(ctx, 1)
		report.Delivered = append(report.Delivered, ReplayedEntry{EntryID: entry.ID, CallID: string(entry.CallID), TicketID: ticketID})
		r.logger.InfoContext(ctx, "replayed queued ticket", "entry_id", entry.ID, "call_id", entry.CallID, "ticket_id", ticketID)
	}

	span.SetAttributes(
		attribute.Int("ticketing.replay.delivered", len(report.Delivered)),
		attribute.Int("ticketing.replay.failed", report.Failed),
		attribute.Int("ticketing.replay.skipped", report.Skipped),
	)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

// Run replays the queue every interval until ctx is done.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Replay(ctx, 0); err != nil {
				r.logger.ErrorContext(ctx, "periodic ticket replay failed", "error", err)
			}
		}
	}
}
