// Package postgres implements [sessionlog.Store] on PostgreSQL through a
// [pgxpool.Pool].
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/cadence/internal/sessionlog"
	"github.com/MrWong99/cadence/pkg/audio"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS cadence_sessions (
    id                 TEXT             PRIMARY KEY,
    label              TEXT             NOT NULL DEFAULT '',
    mode               TEXT             NOT NULL DEFAULT 'cards',
    started_at         TIMESTAMPTZ      NOT NULL,
    duration_ns        BIGINT           NOT NULL DEFAULT 0,
    card_count         INTEGER          NOT NULL DEFAULT 0,
    final_card         INTEGER          NOT NULL DEFAULT 0,
    total_lines        INTEGER          NOT NULL DEFAULT 0,
    average_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    recording          JSONB,
    payload            BYTEA
);

CREATE INDEX IF NOT EXISTS idx_cadence_sessions_started_at
    ON cadence_sessions (started_at DESC);
`

var _ sessionlog.Store = (*Store)(nil)

// Store is a PostgreSQL-backed session log. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the session table and its index if missing. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("create cadence_sessions: %w", err)
	}
	return nil
}

// Save implements [sessionlog.Store].
func (s *Store) Save(ctx context.Context, rec sessionlog.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := sessionlog.EncodePayload(rec.Payload)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO cadence_sessions
		    (id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    label              = EXCLUDED.label,
		    mode               = EXCLUDED.mode,
		    started_at         = EXCLUDED.started_at,
		    duration_ns        = EXCLUDED.duration_ns,
		    card_count         = EXCLUDED.card_count,
		    final_card         = EXCLUDED.final_card,
		    total_lines        = EXCLUDED.total_lines,
		    average_confidence = EXCLUDED.average_confidence,
		    recording          = EXCLUDED.recording,
		    payload            = EXCLUDED.payload`

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.Label,
		string(rec.Mode),
		rec.StartedAt,
		rec.Duration.Nanoseconds(),
		rec.CardCount,
		rec.FinalCard,
		rec.TotalLines,
		rec.AverageConfidence,
		rec.Recording,
		payload,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", rec.ID, err)
	}
	return nil
}

// Get implements [sessionlog.Store].
func (s *Store) Get(ctx context.Context, id string) (sessionlog.Record, error) {
	const q = `
		SELECT id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, payload
		FROM   cadence_sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return sessionlog.Record{}, fmt.Errorf("postgres store: get %q: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return sessionlog.Record{}, fmt.Errorf("%w: %s", sessionlog.ErrNotFound, id)
	}
	if err != nil {
		return sessionlog.Record{}, fmt.Errorf("postgres store: get %q: %w", id, err)
	}
	return rec, nil
}

// List implements [sessionlog.Store].
func (s *Store) List(ctx context.Context, limit int) ([]sessionlog.Record, error) {
	q := `
		SELECT id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, NULL::bytea
		FROM   cadence_sessions
		ORDER  BY started_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []sessionlog.Record{}
	}
	return recs, nil
}

// Ping implements [sessionlog.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [sessionlog.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (sessionlog.Record, error) {
	var (
		rec        sessionlog.Record
		mode       string
		durationNS int64
		recording  *audio.Recording
		blob       []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Label,
		&mode,
		&rec.StartedAt,
		&durationNS,
		&rec.CardCount,
		&rec.FinalCard,
		&rec.TotalLines,
		&rec.AverageConfidence,
		&recording,
		&blob,
	); err != nil {
		return sessionlog.Record{}, err
	}
	rec.Mode = sessionlog.Mode(mode)
	rec.StartedAt = rec.StartedAt.UTC()
	rec.Duration = time.Duration(durationNS)
	rec.Recording = recording
	payload, err := sessionlog.DecodePayload(blob)
	if err != nil {
		return sessionlog.Record{}, err
	}
	rec.Payload = payload
	return rec, nil
}
