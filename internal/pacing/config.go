package pacing

import (
	"errors"
	"fmt"
	"time"
)

// Config tunes the pacing engine. The zero value is not useful; start from
// [DefaultConfig].
type Config struct {
	// WordsPerMinute is the speaking rate used to derive the base pace.
	WordsPerMinute float64

	// MinBase and MaxBase clamp the base seconds-per-line.
	MinBase, MaxBase time.Duration

	// PauseBelow pauses scrolling when a match arrives below it; ResumeAbove
	// resumes an automatic pause.
	PauseBelow, ResumeAbove float64

	// SilencePause pauses scrolling when no voice match arrived for this
	// long. Zero disables it.
	SilencePause time.Duration

	// SilenceStop stops scrolling for good after this much silence.
	SilenceStop time.Duration

	// DriftWindow is the number of drift samples kept; DriftMinSamples must
	// agree in sign before the pace changes by SpeedAdjust.
	DriftWindow     int
	DriftMinSamples int
	SpeedAdjust     float64

	// MinFactor and MaxFactor bound the pace relative to the base pace.
	// Floor is the absolute minimum seconds-per-line.
	MinFactor, MaxFactor float64
	Floor                time.Duration

	// HardDrift and HardConfidence gate a snap to the matched line.
	HardDrift      int
	HardConfidence float64

	// SoftConfidence and SoftInterval gate a nudge for drifts of one or two
	// lines.
	SoftConfidence float64
	SoftInterval   time.Duration

	// PredictWindow line timings are kept; PredictMinSamples are needed
	// before PredictWeight of the learned pace is blended with the base.
	// The blend is applied once it diverges by more than PredictDivergence.
	PredictWindow     int
	PredictMinSamples int
	PredictWeight     float64
	PredictDivergence time.Duration

	// TickInterval is the scroll tick period.
	TickInterval time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		WordsPerMinute:    160,
		MinBase:           800 * time.Millisecond,
		MaxBase:           4 * time.Second,
		PauseBelow:        0.35,
		ResumeAbove:       0.45,
		SilencePause:      2500 * time.Millisecond,
		SilenceStop:       10 * time.Second,
		DriftWindow:       5,
		DriftMinSamples:   3,
		SpeedAdjust:       0.35,
		MinFactor:         0.2,
		MaxFactor:         5,
		Floor:             300 * time.Millisecond,
		HardDrift:         3,
		HardConfidence:    0.65,
		SoftConfidence:    0.55,
		SoftInterval:      800 * time.Millisecond,
		PredictWindow:     10,
		PredictMinSamples: 5,
		PredictWeight:     0.7,
		PredictDivergence: 300 * time.Millisecond,
		TickInterval:      time.Second / 60,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.WordsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("words_per_minute must be positive, got %v", c.WordsPerMinute))
	}
	if c.MinBase <= 0 || c.MaxBase < c.MinBase {
		errs = append(errs, fmt.Errorf("base bounds [%v, %v] are invalid", c.MinBase, c.MaxBase))
	}
	if c.PauseBelow < 0 || c.ResumeAbove > 1 || c.ResumeAbove < c.PauseBelow {
		errs = append(errs, fmt.Errorf("pause_below %v must not exceed resume_above %v within [0,1]", c.PauseBelow, c.ResumeAbove))
	}
	if c.DriftWindow < 1 || c.DriftMinSamples < 1 || c.DriftMinSamples > c.DriftWindow {
		errs = append(errs, fmt.Errorf("drift window %d / min samples %d are invalid", c.DriftWindow, c.DriftMinSamples))
	}
	if c.SpeedAdjust <= 0 || c.SpeedAdjust >= 1 {
		errs = append(errs, fmt.Errorf("speed_adjust must be in (0,1), got %v", c.SpeedAdjust))
	}
	if c.MinFactor <= 0 || c.MaxFactor < c.MinFactor {
		errs = append(errs, fmt.Errorf("pace factors [%v, %v] are invalid", c.MinFactor, c.MaxFactor))
	}
	if c.PredictWindow < 1 || c.PredictMinSamples < 1 || c.PredictMinSamples > c.PredictWindow {
		errs = append(errs, fmt.Errorf("predict window %d / min samples %d are invalid", c.PredictWindow, c.PredictMinSamples))
	}
	if c.PredictWeight < 0 || c.PredictWeight > 1 {
		errs = append(errs, fmt.Errorf("predict_weight must be in [0,1], got %v", c.PredictWeight))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	return errors.Join(errs...)
}
