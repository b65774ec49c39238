// Package match scores how well a live speech transcript matches an expected
// phrase.
//
// Three independent strategies run on the same pair of inputs and the best
// score wins:
//
//  1. Word bag: order-independent. Each target word is looked up anywhere in
//     the transcript, exactly or as a partial match. A cohesion bonus is added
//     when two target words appear next to each other.
//  2. Sequential: order-preserving but skip-tolerant. Filler words in the
//     transcript ("um", "like") are stepped over.
//  3. Key phrase: a contiguous 3–5 word chunk of the target must appear
//     verbatim in the transcript. This catches one distinctive chunk in an
//     otherwise noisy utterance.
//
// Partial word matches tolerate recognition errors on longer words. Two words
// of at least four letters match partially when their Levenshtein similarity
// reaches the overlap threshold, or when they share a primary Double
// Metaphone code and are at least loosely similar.
//
// The [Matcher] is read-only after construction and safe for concurrent use.
package match

import (
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultOverlapThreshold  = 0.70
	defaultPhoneticOverlap   = 0.50
	minPartialWordLength     = 4
	cohesionBonus            = 0.15
	minKeyPhraseWords        = 3
	maxKeyPhraseWords        = 5
	keyPhraseFloor           = 0.75
	displayExponent          = 0.6
	displayMaxThresholdBonus = 0.15
)

// Strategy identifies which scoring strategy produced a [Result].
type Strategy int

const (
	// StrategyNone means no strategy scored above zero.
	StrategyNone Strategy = iota

	// StrategyWordBag is the order-independent word lookup.
	StrategyWordBag

	// StrategySequential is the order-preserving, skip-tolerant walk.
	StrategySequential

	// StrategyKeyPhrase is the contiguous 3–5 word chunk lookup.
	StrategyKeyPhrase
)

// String returns the human-readable name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyWordBag:
		return "word_bag"
	case StrategySequential:
		return "sequential"
	case StrategyKeyPhrase:
		return "key_phrase"
	default:
		return "none"
	}
}

// Result is the outcome of a single matching attempt. It is never persisted;
// callers recompute it from the latest transcript.
type Result struct {
	// Matches reports Confidence >= the caller's threshold.
	Matches bool

	// Confidence is the best strategy score, clamped to [0, 1].
	Confidence float64

	// Strategy names the strategy that produced Confidence.
	Strategy Strategy
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithOverlapThreshold sets the minimum Levenshtein similarity for two words
// to count as a partial match. Default: 0.70.
func WithOverlapThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.overlapThreshold = threshold
	}
}

// WithPhonetic toggles the Double Metaphone partial-match path. Default: on.
func WithPhonetic(enabled bool) Option {
	return func(m *Matcher) {
		m.phonetic = enabled
	}
}

// Matcher scores transcripts against target phrases.
type Matcher struct {
	overlapThreshold float64
	phonetic         bool
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		overlapThreshold: defaultOverlapThreshold,
		phonetic:         true,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var defaultMatcher = New()

// Match scores transcript against target with the default [Matcher].
func Match(transcript, target string, threshold float64) Result {
	return defaultMatcher.Match(transcript, target, threshold)
}

// Match scores transcript against target and reports whether the best score
// reaches threshold.
func (m *Matcher) Match(transcript, target string, threshold float64) Result {
	return m.MatchTokens(Tokenize(transcript), Tokenize(target), threshold)
}

// MatchTokens is [Matcher.Match] on pre-tokenized input. Both slices must
// come from [Tokenize].
func (m *Matcher) MatchTokens(transcript, target []string, threshold float64) Result {
	if len(transcript) == 0 || len(target) == 0 {
		return Result{}
	}

	best, strategy := 0.0, StrategyNone
	for _, s := range []struct {
		kind  Strategy
		score float64
	}{
		{StrategyWordBag, m.WordBag(transcript, target)},
		{StrategySequential, m.Sequential(transcript, target)},
		{StrategyKeyPhrase, KeyPhrase(transcript, target)},
	} {
		if s.score > best {
			best, strategy = s.score, s.kind
		}
	}

	conf := Clamp01(best)
	return Result{
		Matches:    conf > 0 && conf >= threshold,
		Confidence: conf,
		Strategy:   strategy,
	}
}

// WordBag returns the fraction of target words found anywhere in transcript,
// plus a cohesion bonus when two target words appear as a contiguous run. The
// result may exceed 1.
func (m *Matcher) WordBag(transcript, target []string) float64 {
	if len(transcript) == 0 || len(target) == 0 {
		return 0
	}

	found := 0
	for _, want := range target {
		for _, got := range transcript {
			if m.wordsMatch(got, want) {
				found++
				break
			}
		}
	}
	score := float64(found) / float64(len(target))

	if found >= 2 && m.hasContiguousPair(transcript, target) {
		score += cohesionBonus
	}
	return score
}

// hasContiguousPair reports whether two consecutive target words appear as
// two consecutive transcript words.
func (m *Matcher) hasContiguousPair(transcript, target []string) bool {
	for i := 0; i+1 < len(transcript); i++ {
		for j := 0; j+1 < len(target); j++ {
			if m.wordsMatch(transcript[i], target[j]) && m.wordsMatch(transcript[i+1], target[j+1]) {
				return true
			}
		}
	}
	return false
}

// Sequential walks transcript and target in parallel, advancing through the
// target on every exact or partial match and skipping unmatched transcript
// words. It returns the fraction of target words reached.
func (m *Matcher) Sequential(transcript, target []string) float64 {
	if len(transcript) == 0 || len(target) == 0 {
		return 0
	}
	j := 0
	for _, got := range transcript {
		if j >= len(target) {
			break
		}
		if m.wordsMatch(got, target[j]) {
			j++
		}
	}
	return float64(j) / float64(len(target))
}

// KeyPhrase reports whether a contiguous chunk of target appears verbatim in
// transcript. The whole target scores 1. Otherwise the longest 3–5 word
// window found scores the share of the target it covers, but at least 0.75.
// Short targets (fewer than three words) only score on a whole-phrase
// occurrence.
func KeyPhrase(transcript, target []string) float64 {
	if len(transcript) == 0 || len(target) == 0 {
		return 0
	}
	if containsRun(transcript, target) {
		return 1
	}

	maxSize := min(maxKeyPhraseWords, len(target)-1)
	for size := maxSize; size >= minKeyPhraseWords; size-- {
		for start := 0; start+size <= len(target); start++ {
			if containsRun(transcript, target[start:start+size]) {
				return math.Max(keyPhraseFloor, float64(size)/float64(len(target)))
			}
		}
	}
	return 0
}

// containsRun reports whether run appears as a contiguous subsequence of
// words.
func containsRun(words, run []string) bool {
	if len(run) == 0 || len(run) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(words); i++ {
		for k := range run {
			if words[i+k] != run[k] {
				continue outer
			}
		}
		return true
	}
	return false
}

// wordsMatch reports an exact or partial word match.
func (m *Matcher) wordsMatch(got, want string) bool {
	if got == want {
		return true
	}
	return m.partialMatch(got, want)
}

// partialMatch tolerates recognition errors on longer words.
func (m *Matcher) partialMatch(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	if la < minPartialWordLength || lb < minPartialWordLength {
		return false
	}
	sim := Similarity(a, b)
	if sim >= m.overlapThreshold {
		return true
	}
	if !m.phonetic || sim < defaultPhoneticOverlap {
		return false
	}
	pa, _ := matchr.DoubleMetaphone(a)
	pb, _ := matchr.DoubleMetaphone(b)
	return pa != "" && pa == pb
}

// Similarity returns the character-overlap ratio of two words:
// 1 - levenshtein(a, b) / max(len(a), len(b)).
func Similarity(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(maxLen)
}

// Tokenize lower-cases s, strips punctuation (keeping apostrophes inside
// words) and splits on whitespace.
func Tokenize(s string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			return unicode.ToLower(r)
		case r == '’':
			return '\''
		default:
			return ' '
		}
	}, s)

	fields := strings.Fields(mapped)
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Shape converts a raw confidence into the value shown to the performer.
// It never influences the match decision.
//
// The raw value is lifted with confidence^0.6. When the raw value is at or
// above threshold, a bonus of up to 0.15 is added in proportion to how far
// above threshold it sits. The result is capped at 1.
func Shape(confidence, threshold float64) float64 {
	confidence = Clamp01(confidence)
	if confidence == 0 {
		return 0
	}
	boosted := math.Pow(confidence, displayExponent)
	if confidence >= threshold {
		headroom := 1 - threshold
		ratio := 1.0
		if headroom > 0 {
			ratio = (confidence - threshold) / headroom
		}
		boosted += displayMaxThresholdBonus * Clamp01(ratio)
	}
	return math.Min(boosted, 1)
}

// Clamp01 clamps v to [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
