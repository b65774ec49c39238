package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	// lowFactor scales the session average into the low-confidence threshold.
	lowFactor = 0.7

	// minLowSection is the shortest low run reported as an insight.
	minLowSection = 3 * time.Second

	// minAnchorSection is the shortest low run that earns an anchor suggestion.
	minAnchorSection = 5 * time.Second

	// criticalConfidence marks a low section as critical.
	criticalConfidence = 0.3

	// paceSections is the number of equal time buckets for the pace trend.
	paceSections = 5

	// DefaultWordsPerLine is assumed when the transcript cannot supply a
	// words-per-line figure.
	DefaultWordsPerLine = 7.0
)

// Summarize computes average, min and max confidence in a single pass.
func Summarize(timeline []DataPoint) Stats {
	if len(timeline) == 0 {
		return Stats{}
	}
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1), Count: len(timeline)}
	var sum float64
	for _, p := range timeline {
		sum += p.Confidence
		s.Min = math.Min(s.Min, p.Confidence)
		s.Max = math.Max(s.Max, p.Confidence)
	}
	s.Average = sum / float64(len(timeline))
	return s
}

// Analyze produces insights for a finished session, most severe first.
// An empty timeline yields no insights.
func Analyze(transcript string, timeline []DataPoint, totalLines int, duration time.Duration) []Insight {
	if len(timeline) == 0 {
		return nil
	}
	pts := sorted(timeline)
	stats := Summarize(pts)

	var out []Insight
	low := LowSections(pts, stats.Average*lowFactor, duration)
	for _, s := range low {
		out = append(out, lowInsight(s))
	}
	for _, s := range low {
		if s.Duration() > minAnchorSection {
			out = append(out, anchorInsight(s))
		}
	}

	wpl := wordsPerLine(transcript, totalLines)
	if wpm := SectionWPM(pts, duration, wpl); len(wpm) >= 3 {
		out = append(out, trendInsight(ClassifyTrend(wpm), wpm))
	}

	out = append(out, overallInsight(stats, len(low) > 0))

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

func sorted(timeline []DataPoint) []DataPoint {
	pts := make([]DataPoint, len(timeline))
	copy(pts, timeline)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].At < pts[j].At })
	return pts
}

// LowSections returns contiguous runs of samples below threshold lasting
// longer than three seconds. A run ends at the next sample above threshold,
// or at duration when the session ends inside it. pts must be time-ordered.
func LowSections(pts []DataPoint, threshold float64, duration time.Duration) []Section {
	var out []Section
	for i := 0; i < len(pts); {
		if pts[i].Confidence >= threshold {
			i++
			continue
		}
		j := i
		sec := Section{Start: pts[i].At, Lines: LineRange{Start: pts[i].Index, End: pts[i].Index}}
		var sum float64
		for ; j < len(pts) && pts[j].Confidence < threshold; j++ {
			sum += pts[j].Confidence
			sec.Lines.Start = min(sec.Lines.Start, pts[j].Index)
			sec.Lines.End = max(sec.Lines.End, pts[j].Index)
		}
		sec.Average = sum / float64(j-i)
		switch {
		case j < len(pts):
			sec.End = pts[j].At
		case duration > pts[j-1].At:
			sec.End = duration
		default:
			sec.End = pts[j-1].At
		}
		if sec.Duration() > minLowSection {
			out = append(out, sec)
		}
		i = j
	}
	return out
}

// SectionWPM splits the session into five equal time buckets and returns the
// words per minute spoken in each bucket that holds at least one sample.
// Progress is measured by the line delta inside the bucket.
func SectionWPM(pts []DataPoint, duration time.Duration, wordsPerLine float64) []float64 {
	span := duration
	if last := pts[len(pts)-1].At; span < last {
		span = last
	}
	if span <= 0 {
		return nil
	}
	width := span / paceSections
	if width <= 0 {
		return nil
	}

	type bucket struct {
		first, last int
		seen        bool
	}
	var buckets [paceSections]bucket
	for _, p := range pts {
		b := min(int(p.At/width), paceSections-1)
		if !buckets[b].seen {
			buckets[b] = bucket{first: p.Index, last: p.Index, seen: true}
			continue
		}
		buckets[b].last = p.Index
	}

	minutes := width.Minutes()
	var out []float64
	for _, b := range buckets {
		if !b.seen {
			continue
		}
		lines := max(b.last-b.first, 0)
		out = append(out, float64(lines)*wordsPerLine/minutes)
	}
	return out
}

// ClassifyTrend labels a sequence of per-section WPM values by the mean and
// variance of consecutive differences.
func ClassifyTrend(wpm []float64) Trend {
	if len(wpm) < 2 {
		return TrendSteady
	}
	deltas := make([]float64, len(wpm)-1)
	var sum float64
	for i := 1; i < len(wpm); i++ {
		deltas[i-1] = wpm[i] - wpm[i-1]
		sum += deltas[i-1]
	}
	mean := sum / float64(len(deltas))
	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))

	switch {
	case variance > 100:
		return TrendVariable
	case mean > 5:
		return TrendAccelerating
	case mean < -5:
		return TrendDecelerating
	default:
		return TrendSteady
	}
}

func wordsPerLine(transcript string, totalLines int) float64 {
	words := len(strings.Fields(transcript))
	if words == 0 || totalLines <= 0 {
		return DefaultWordsPerLine
	}
	return float64(words) / float64(totalLines)
}

func lowInsight(s Section) Insight {
	sev := SeverityWarning
	if s.Average < criticalConfidence {
		sev = SeverityCritical
	}
	return Insight{
		Type:     TypeLowConfidence,
		Severity: sev,
		Title:    fmt.Sprintf("Low confidence on %s", s.Lines),
		Detail: fmt.Sprintf("Recognition averaged %.0f%% for %s. Rehearse this passage or simplify its wording.",
			s.Average*100, s.Duration().Round(100*time.Millisecond)),
		Lines: &LineRange{Start: s.Lines.Start, End: s.Lines.End},
		At:    s.Start,
	}
}

func anchorInsight(s Section) Insight {
	line := max(s.Lines.Start-1, 0)
	return Insight{
		Type:     TypeAnchorSuggestion,
		Severity: SeverityInfo,
		Title:    fmt.Sprintf("Add an anchor at line %d", line+1),
		Detail: fmt.Sprintf("The prompter lost you for %s. A distinctive anchor phrase just before it helps resynchronise.",
			s.Duration().Round(100*time.Millisecond)),
		Lines: &LineRange{Start: line, End: line},
		At:    s.Start,
	}
}

func trendInsight(t Trend, wpm []float64) Insight {
	in := Insight{Type: TypePaceTrend}
	first, last := wpm[0], wpm[len(wpm)-1]
	switch t {
	case TrendVariable:
		in.Severity = SeverityWarning
		in.Title = "Uneven pace"
		in.Detail = "Your speaking rate swung between sections. Mark breathing points to keep a consistent rhythm."
	case TrendAccelerating:
		in.Severity = SeverityWarning
		in.Title = "Speeding up"
		in.Detail = fmt.Sprintf("You went from %.0f to %.0f words per minute. Slow down towards the end.", first, last)
	case TrendDecelerating:
		in.Severity = SeverityInfo
		in.Title = "Slowing down"
		in.Detail = fmt.Sprintf("You went from %.0f to %.0f words per minute. Keep energy up through the closing sections.", first, last)
	default:
		in.Severity = SeveritySuccess
		in.Title = "Steady pace"
		in.Detail = "Your speaking rate stayed consistent throughout."
	}
	return in
}

func overallInsight(s Stats, hasLow bool) Insight {
	in := Insight{Type: TypeOverall}
	switch {
	case s.Average >= 0.85 && !hasLow:
		in.Severity = SeveritySuccess
		in.Title = "Excellent performance"
		in.Detail = fmt.Sprintf("Average confidence %.0f%% with no weak passages.", s.Average*100)
	case s.Average >= 0.7:
		in.Severity = SeveritySuccess
		in.Title = "Solid performance"
		in.Detail = fmt.Sprintf("Average confidence %.0f%%. Polish the flagged passages to tighten it up.", s.Average*100)
	case s.Average >= 0.5:
		in.Severity = SeverityInfo
		in.Title = "Room for improvement"
		in.Detail = fmt.Sprintf("Average confidence %.0f%%. Several passages drifted from the script.", s.Average*100)
	default:
		in.Severity = SeverityWarning
		in.Title = "Needs practice"
		in.Detail = fmt.Sprintf("Average confidence %.0f%%. Run the script a few more times before going live.", s.Average*100)
	}
	return in
}

// String renders the range with 1-based line numbers.
func (r LineRange) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("line %d", r.Start+1)
	}
	return fmt.Sprintf("lines %d-%d", r.Start+1, r.End+1)
}
