package recognition

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
)

// Config tunes the recognition engine. Start from [DefaultConfig].
type Config struct {
	// ExitThreshold is the match confidence that triggers an automatic
	// advance. AnchorThreshold confirms entry into a card.
	ExitThreshold   float64
	AnchorThreshold float64

	// Debounce is the minimum time between automatic advances.
	Debounce time.Duration

	// StallTimeout is how long speech may go without any transcript before
	// the recognizer stream is restarted.
	StallTimeout time.Duration

	// WatchdogInterval is how often the stall condition is checked.
	WatchdogInterval time.Duration

	// SpeakingLevel is the audio level in [0,1] at or above which the
	// performer counts as speaking.
	SpeakingLevel float64

	// LevelInterval throttles audio level publication. 100ms is 10 Hz.
	LevelInterval time.Duration

	// Format is the PCM format sent to the recognizer and the recorder.
	Format audio.Format

	// Language is passed to the recognizer. Empty uses its default.
	Language string

	// KeywordBoost is the boost given to cue phrase keywords. Zero sends no
	// keywords.
	KeywordBoost float64

	// PreferOnDevice asks the recognizer for local recognition.
	PreferOnDevice bool

	// RecordDir, when set, receives a PCM recording of every session.
	RecordDir string

	// CompressRecording stores recordings zstd-compressed.
	CompressRecording bool
}

// DefaultConfig returns the stock thresholds and timings.
func DefaultConfig() Config {
	return Config{
		ExitThreshold:    0.7,
		AnchorThreshold:  0.6,
		Debounce:         1500 * time.Millisecond,
		StallTimeout:     2 * time.Second,
		WatchdogInterval: 500 * time.Millisecond,
		SpeakingLevel:    0.2,
		LevelInterval:    100 * time.Millisecond,
		Format:           audio.Format{SampleRate: 16000, Channels: 1},
		KeywordBoost:     1.5,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"exit_threshold":   c.ExitThreshold,
		"anchor_threshold": c.AnchorThreshold,
		"speaking_level":   c.SpeakingLevel,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1], got %v", name, v))
		}
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must not be negative, got %v", c.Debounce))
	}
	if c.StallTimeout <= 0 || c.WatchdogInterval <= 0 {
		errs = append(errs, errors.New("stall_timeout and watchdog interval must be positive"))
	}
	if err := c.Format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}
	return errors.Join(errs...)
}
