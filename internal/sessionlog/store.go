// Package sessionlog persists finished rehearsal and performance sessions so
// they can be listed and re-analysed later.
//
// A [Record] carries small header columns (label, timing, averages) plus a
// payload of transitions, confidence samples, insights and the transcript.
// Backends store the payload as zstd-compressed JSON; see [EncodePayload].
//
// Implementations live in the sqlite and postgres sub-packages.
package sessionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/pkg/audio"
)

// ErrNotFound is returned by [Store.Get] for an unknown session id.
var ErrNotFound = errors.New("sessionlog: session not found")

// Mode names how a session was driven.
type Mode string

const (
	ModeCards        Mode = "cards"
	ModeTeleprompter Mode = "teleprompter"
)

// Record is one stored session.
type Record struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// CardCount is the deck size; TotalLines the teleprompter line count
	// used for pace analysis.
	CardCount  int `json:"card_count"`
	FinalCard  int `json:"final_card"`
	TotalLines int `json:"total_lines"`

	AverageConfidence float64          `json:"average_confidence"`
	Recording         *audio.Recording `json:"recording,omitempty"`

	Payload
}

// Payload is the compressed part of a [Record]. [Store.List] leaves it empty.
type Payload struct {
	Transcript  string                   `json:"transcript,omitempty"`
	Transitions []recognition.Transition `json:"transitions,omitempty"`
	DataPoints  []analytics.DataPoint    `json:"data_points,omitempty"`
	Insights    []analytics.Insight      `json:"insights,omitempty"`
}

// Store persists session records. Implementations are safe for concurrent use.
type Store interface {
	// Save inserts rec, replacing any record with the same ID.
	Save(ctx context.Context, rec Record) error

	// Get returns the full record, or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns up to limit records, newest first, without payloads.
	// A limit <= 0 returns every record.
	List(ctx context.Context, limit int) ([]Record, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// NewRecord builds a record from a finalized recognition session and its
// analysis.
func NewRecord(sum recognition.Summary, mode Mode, cardCount, totalLines int, transcript string, insights []analytics.Insight) Record {
	return Record{
		ID:                sum.SessionID,
		Label:             sum.Label,
		Mode:              mode,
		StartedAt:         sum.StartedAt,
		Duration:          sum.Duration,
		CardCount:         cardCount,
		FinalCard:         sum.FinalCard,
		TotalLines:        totalLines,
		AverageConfidence: analytics.Summarize(sum.DataPoints).Average,
		Recording:         sum.Recording,
		Payload: Payload{
			Transcript:  transcript,
			Transitions: sum.Transitions,
			DataPoints:  sum.DataPoints,
			Insights:    insights,
		},
	}
}

// Reanalyze recomputes the insights from the stored timeline.
func (r Record) Reanalyze() []analytics.Insight {
	return analytics.Analyze(r.Transcript, r.DataPoints, r.TotalLines, r.Duration)
}

// Validate reports whether rec can be stored.
func (r Record) Validate() error {
	if r.ID == "" {
		return errors.New("sessionlog: record id is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("sessionlog: record started_at is required")
	}
	return nil
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodePayload marshals p to JSON and compresses it with zstd.
func EncodePayload(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: encode payload: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// DecodePayload reverses [EncodePayload]. An empty blob decodes to an empty
// payload.
func DecodePayload(blob []byte) (Payload, error) {
	var p Payload
	if len(blob) == 0 {
		return p, nil
	}
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return p, fmt.Errorf("sessionlog: decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("sessionlog: decode payload: %w", err)
	}
	return p, nil
}
