// Package sqlitestore persists undelivered ticket payloads in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-support/core/calls"
	"github.com/koscakluka/ema-support/core/ticketing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements ticketing.FallbackStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dsn and applies pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to an in-memory database gets its own empty database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrationsFS, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrationsFS)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Enqueue(ctx context.Context, payload ticketing.Payload, reason string) (ticketing.FallbackEntry, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ticketing.FallbackEntry{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	now := s.now().UTC()
	entry := ticketing.FallbackEntry{
		ID:        uuid.NewString(),
		CallID:    calls.CallID(payload.CallID),
		Payload:   payload,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ticket_fallback (entry_id, call_id, payload, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, payload.CallID, string(encoded), reason, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return ticketing.FallbackEntry{}, fmt.Errorf("failed to enqueue ticket payload: %w", err)
	}
	return entry, nil
}

func (s *Store) Pending(ctx context.Context, limit int) ([]ticketing.FallbackEntry, error) {
	query := `
		SELECT entry_id, call_id, payload, reason, attempts, last_error, ticket_id, created_at, updated_at, claimed_at
		FROM ticket_fallback
		WHERE delivered_at IS NULL
		ORDER BY created_at, rowid`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tickets: %w", err)
	}
	defer rows.Close()

	var entries []ticketing.FallbackEntry
	for rows.Next() {
		var (
			entry                ticketing.FallbackEntry
			callID, payload      string
			createdAt, updatedAt int64
			claimedAt            sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &callID, &payload, &entry.Reason, &entry.Attempts,
			&entry.LastError, &entry.TicketID, &createdAt, &updatedAt, &claimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending ticket: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of entry %s: %w", entry.ID, err)
		}
		entry.CallID = calls.CallID(callID)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entry.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if claimedAt.Valid {
			claimed := time.UnixMilli(claimedAt.Int64).UTC()
			entry.ClaimedAt = &claimed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Claim takes the entry with a conditional update, so only one of several
// replayers sharing the database gets it.
func (s *Store) Claim(ctx context.Context, id string) error {
	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE ticket_fallback SET claimed_at = ?, updated_at = ?
		WHERE entry_id = ? AND delivered_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at <= ?)`,
		now.UnixMilli(), now.UnixMilli(), id, now.Add(-ticketing.ClaimLease).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to claim ticket payload: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ticket_fallback WHERE entry_id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up ticket payload: %w", err)
	}
	if !exists {
		return ticketing.ErrNotFound
	}
	return ticketing.ErrClaimed
}

func (s *Store) MarkDelivered(ctx context.Context, id, ticketID string) error {
	now := s.now().UTC().UnixMilli()
	result, err := s.db.ExecContext(ctx, `
		UPDATE ticket_fallback SET ticket_id = ?, delivered_at = ?, updated_at = ?
		WHERE entry_id = ?`, ticketID, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark ticket delivered: %w", err)
	}
	return requireRow(result)
}

func (s *Store) RecordFailure(ctx context.Context, id string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE ticket_fallback SET attempts = attempts + 1, last_error = ?, updated_at = ?, claimed_at = NULL
		WHERE entry_id = ?`, message, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to record replay failure: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ticketing.ErrNotFound
	}
	return nil
}
