// Package analytics turns a finished session's confidence timeline into a
// ranked list of insights. Everything here is a pure function of its input.
package analytics

import "time"

// DataPoint is one confidence sample recorded during a session.
type DataPoint struct {
	At         time.Duration `json:"at"`         // offset from session start
	Confidence float64       `json:"confidence"` // clamped to [0,1]
	Index      int           `json:"index"`      // line or card index
}

// Type classifies an [Insight].
type Type string

const (
	TypeLowConfidence    Type = "low_confidence"
	TypePaceTrend        Type = "pace_trend"
	TypeAnchorSuggestion Type = "anchor_suggestion"
	TypeOverall          Type = "overall"
)

// Severity orders insights. Critical is the most severe.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
)

// Rank returns 0 for the most severe level. Unknown levels sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	case SeveritySuccess:
		return 3
	default:
		return 4
	}
}

// LineRange is an inclusive range of line indices.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Insight is one generated finding.
type Insight struct {
	Type     Type          `json:"type"`
	Severity Severity      `json:"severity"`
	Title    string        `json:"title"`
	Detail   string        `json:"detail"`
	Lines    *LineRange    `json:"lines,omitempty"`
	At       time.Duration `json:"at"`
}

// Trend describes how speaking pace moved across a session.
type Trend string

const (
	TrendSteady       Trend = "steady"
	TrendAccelerating Trend = "accelerating"
	TrendDecelerating Trend = "decelerating"
	TrendVariable     Trend = "variable"
)

// Stats summarises confidence over a timeline.
type Stats struct {
	Average float64
	Min     float64
	Max     float64
	Count   int
}

// Section is a contiguous run of samples below the low-confidence threshold.
type Section struct {
	Start, End time.Duration
	Lines      LineRange
	Average    float64
}

// Duration returns End - Start.
func (s Section) Duration() time.Duration { return s.End - s.Start }
