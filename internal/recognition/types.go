package recognition

import (
	"time"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Detection is the kind of phrase last detected.
type Detection int

const (
	DetectionNone Detection = iota
	DetectionAnchor
	DetectionExit
)

func (d Detection) String() string {
	switch d {
	case DetectionAnchor:
		return "anchor"
	case DetectionExit:
		return "exit"
	default:
		return "none"
	}
}

// Event is one transcript update from the recognizer. Text is the best
// guess so far for the current utterance; a Final event closes it.
type Event struct {
	Text        string
	Final       bool
	Offset      time.Duration
	Confidences []float64
}

// EventFromTranscript converts a recognizer transcript.
func EventFromTranscript(t stt.Transcript) Event {
	return Event{
		Text:        t.Text,
		Final:       t.IsFinal,
		Offset:      t.Timestamp,
		Confidences: t.SegmentConfidences(),
	}
}

// Transition records one card change.
type Transition struct {
	From      int           `json:"from"`
	To        int           `json:"to"`
	At        time.Duration `json:"at"`
	Automatic bool          `json:"automatic"`
}

// Confidence is the display-shaped match state after a transcript update.
type Confidence struct {
	Exit      float64
	Anchor    float64
	Detection Detection
}

// Status is a lifecycle or error notice for the host. Message is a short
// human-readable hint. Err is set for surfaced and fatal errors; Fatal means
// the session could not start.
type Status struct {
	State   State
	Message string
	Err     error
	Fatal   bool
}

// Hooks receive engine events. Hooks run outside the engine lock on the
// goroutine that caused the event, often a pump goroutine, and may call
// back into the engine except for Stop and StopAndFinalize, which wait for
// the pumps. Nil hooks are skipped.
type Hooks struct {
	OnCardTransition func(index int, card cue.Card, t Transition)
	OnConfidence     func(c Confidence)
	OnStatus         func(s Status)
	OnAudioLevel     func(level float64)
	OnTranscript     func(text string, final bool)
}

// Snapshot is a copy of the engine's published state.
type Snapshot struct {
	State            State
	Label            string
	SessionID        string
	CardIndex        int
	CardCount        int
	Partial          string
	AudioLevel       float64
	Elapsed          time.Duration
	ExitConfidence   float64
	AnchorConfidence float64
	LastDetection    Detection
	LastError        string
	Transitions      int
	Restarts         int
}

// Listening reports whether the engine is consuming transcripts.
func (s Snapshot) Listening() bool { return s.State == StateListening }

// Summary is returned by [Engine.StopAndFinalize].
type Summary struct {
	Label       string                `json:"label"`
	SessionID   string                `json:"session_id"`
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"duration"`
	FinalCard   int                   `json:"final_card"`
	Recording   *audio.Recording      `json:"recording,omitempty"`
	Transitions []Transition          `json:"transitions"`
	DataPoints  []analytics.DataPoint `json:"data_points"`
}
