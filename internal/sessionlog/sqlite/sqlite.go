// Package sqlite implements [sessionlog.Store] on an embedded SQLite file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/cadence/internal/sessionlog"
	"github.com/MrWong99/cadence/pkg/audio"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT    PRIMARY KEY,
	label              TEXT    NOT NULL DEFAULT '',
	mode               TEXT    NOT NULL DEFAULT 'cards',
	started_at         INTEGER NOT NULL,
	duration_ns        INTEGER NOT NULL DEFAULT 0,
	card_count         INTEGER NOT NULL DEFAULT 0,
	final_card         INTEGER NOT NULL DEFAULT 0,
	total_lines        INTEGER NOT NULL DEFAULT 0,
	average_confidence REAL    NOT NULL DEFAULT 0,
	recording          TEXT,
	payload            BLOB
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
`

var _ sessionlog.Store = (*Store)(nil)

// Store is a SQLite-backed session log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" keeps the
// log in memory for the lifetime of the store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}
	// One connection: an in-memory database is per connection, and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	slog.Debug("sqlite store: opened", "path", path)
	return &Store{db: db}, nil
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
	var recording sql.NullString
	if rec.Recording != nil {
		b, err := json.Marshal(rec.Recording)
		if err != nil {
			return fmt.Errorf("sqlite store: encode recording: %w", err)
		}
		recording = sql.NullString{String: string(b), Valid: true}
	}

	const q = `
		INSERT INTO sessions
		    (id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    label = excluded.label,
		    mode = excluded.mode,
		    started_at = excluded.started_at,
		    duration_ns = excluded.duration_ns,
		    card_count = excluded.card_count,
		    final_card = excluded.final_card,
		    total_lines = excluded.total_lines,
		    average_confidence = excluded.average_confidence,
		    recording = excluded.recording,
		    payload = excluded.payload`
	_, err = s.db.ExecContext(ctx, q,
		rec.ID,
		rec.Label,
		string(rec.Mode),
		rec.StartedAt.UnixNano(),
		rec.Duration.Nanoseconds(),
		rec.CardCount,
		rec.FinalCard,
		rec.TotalLines,
		rec.AverageConfidence,
		recording,
		payload,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %q: %w", rec.ID, err)
	}
	return nil
}

// Get implements [sessionlog.Store].
func (s *Store) Get(ctx context.Context, id string) (sessionlog.Record, error) {
	const q = `
		SELECT id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, payload
		FROM   sessions
		WHERE  id = ?`
	var blob []byte
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id), &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return sessionlog.Record{}, fmt.Errorf("%w: %s", sessionlog.ErrNotFound, id)
	}
	if err != nil {
		return sessionlog.Record{}, fmt.Errorf("sqlite store: get %q: %w", id, err)
	}
	rec.Payload, err = sessionlog.DecodePayload(blob)
	if err != nil {
		return sessionlog.Record{}, err
	}
	return rec, nil
}

// List implements [sessionlog.Store].
func (s *Store) List(ctx context.Context, limit int) ([]sessionlog.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `
		SELECT id, label, mode, started_at, duration_ns, card_count, final_card, total_lines, average_confidence, recording, NULL
		FROM   sessions
		ORDER  BY started_at DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	out := []sessionlog.Record{}
	for rows.Next() {
		var blob []byte
		rec, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

// Ping implements [sessionlog.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [sessionlog.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, blob *[]byte) (sessionlog.Record, error) {
	var (
		rec        sessionlog.Record
		mode       string
		startedNS  int64
		durationNS int64
		recording  sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Label,
		&mode,
		&startedNS,
		&durationNS,
		&rec.CardCount,
		&rec.FinalCard,
		&rec.TotalLines,
		&rec.AverageConfidence,
		&recording,
		blob,
	); err != nil {
		return rec, err
	}
	rec.Mode = sessionlog.Mode(mode)
	rec.StartedAt = time.Unix(0, startedNS).UTC()
	rec.Duration = time.Duration(durationNS)
	if recording.Valid {
		var r audio.Recording
		if err := json.Unmarshal([]byte(recording.String), &r); err != nil {
			return rec, fmt.Errorf("decode recording: %w", err)
		}
		rec.Recording = &r
	}
	return rec, nil
}
