package stt

import "time"

// Transcript is one recognition result. Partial and final results share this
// type.
type Transcript struct {
	// Text is the best guess so far for the current utterance.
	Text string

	// IsFinal marks the end of the utterance.
	IsFinal bool

	// Confidence is the overall score (0.0–1.0). Zero when not reported.
	Confidence float64

	// Words carries per-word detail when the provider reports it.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SegmentConfidences returns the per-word confidences, or the overall
// confidence as a single segment when no word detail is present. It returns
// nil when the provider reported nothing.
func (t Transcript) SegmentConfidences() []float64 {
	if len(t.Words) > 0 {
		out := make([]float64, len(t.Words))
		for i, w := range t.Words {
			out[i] = w.Confidence
		}
		return out
	}
	if t.Confidence > 0 {
		return []float64{t.Confidence}
	}
	return nil
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a word to favour during recognition.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
