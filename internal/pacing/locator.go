package pacing

import "github.com/MrWong99/cadence/internal/match"

// Locator finds the line a live transcript corresponds to. Only the tail of
// the transcript is compared, against lines in a window around the current
// cursor.
type Locator struct {
	matcher *match.Matcher
	lines   [][]string
	behind  int
	ahead   int
	tail    int
}

// LocatorOption configures a [Locator].
type LocatorOption func(*Locator)

// WithWindow sets how many lines before and after the cursor are searched.
// Defaults: 2 behind, 6 ahead.
func WithWindow(behind, ahead int) LocatorOption {
	return func(l *Locator) {
		l.behind = max(behind, 0)
		l.ahead = max(ahead, 0)
	}
}

// WithTailWords sets how many trailing transcript words are compared.
// Default: 8.
func WithTailWords(n int) LocatorOption {
	return func(l *Locator) {
		if n > 0 {
			l.tail = n
		}
	}
}

// WithMatcher replaces the default phrase matcher.
func WithMatcher(m *match.Matcher) LocatorOption {
	return func(l *Locator) { l.matcher = m }
}

// NewLocator tokenises lines once for repeated lookups.
func NewLocator(lines []Line, opts ...LocatorOption) *Locator {
	l := &Locator{
		matcher: match.New(),
		lines:   make([][]string, len(lines)),
		behind:  2,
		ahead:   6,
		tail:    8,
	}
	for _, o := range opts {
		o(l)
	}
	for i, line := range lines {
		l.lines[i] = match.Tokenize(line.Text)
	}
	return l
}

// Locate returns the best matching line near current and its confidence.
// Ties go to the later line since the tail ends with the newest words.
// ok is false when nothing in the window matched at all.
func (l *Locator) Locate(transcript string, current int) (index int, confidence float64, ok bool) {
	words := match.Tokenize(transcript)
	if len(words) == 0 || len(l.lines) == 0 {
		return 0, 0, false
	}
	if len(words) > l.tail {
		words = words[len(words)-l.tail:]
	}

	current = clampIndex(current, len(l.lines))
	lo := max(current-l.behind, 0)
	hi := min(current+l.ahead, len(l.lines)-1)
	best := -1
	for i := lo; i <= hi; i++ {
		if len(l.lines[i]) == 0 {
			continue
		}
		c := l.matcher.MatchTokens(words, l.lines[i], 0).Confidence
		if c > 0 && c >= confidence {
			best, confidence = i, c
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, confidence, true
}
