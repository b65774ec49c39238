// Package cue models the ordered script segments a performer moves through
// and loads them from script files.
package cue

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/cadence/internal/match"
)

// phraseWords is how many words a derived anchor or exit phrase takes from
// the card text.
const phraseWords = 6

// fillers never make a phrase meaningful on their own.
var fillers = map[string]bool{
	"um": true, "uh": true, "er": true, "ah": true, "like": true, "so": true,
	"and": true, "the": true, "a": true, "an": true, "okay": true, "ok": true,
}

// Card is one script segment. Cards are values; a session works on a fixed
// slice of them.
type Card struct {
	ID           uuid.UUID
	Order        int
	FullText     string
	AnchorPhrase string
	ExitPhrase   string
	Enabled      bool
}

// NewCard returns an enabled card with a fresh ID. Empty anchor or exit
// phrases are derived from the first and last words of text.
func NewCard(order int, text, anchor, exit string) Card {
	c := Card{
		ID:           uuid.New(),
		Order:        order,
		FullText:     strings.TrimSpace(text),
		AnchorPhrase: strings.TrimSpace(anchor),
		ExitPhrase:   strings.TrimSpace(exit),
		Enabled:      true,
	}
	words := strings.Fields(c.FullText)
	if c.AnchorPhrase == "" {
		c.AnchorPhrase = strings.Join(words[:min(phraseWords, len(words))], " ")
	}
	if c.ExitPhrase == "" {
		c.ExitPhrase = strings.Join(words[max(0, len(words)-phraseWords):], " ")
	}
	return c
}

// Valid reports whether the exit phrase contains at least one word that is
// not a filler.
func (c Card) Valid() bool {
	for _, w := range match.Tokenize(c.ExitPhrase) {
		if !fillers[w] {
			return true
		}
	}
	return false
}

// MatchExit scores transcript against the exit phrase.
func (c Card) MatchExit(transcript string, threshold float64) match.Result {
	return match.Match(transcript, c.ExitPhrase, threshold)
}

// MatchAnchor scores transcript against the anchor phrase.
func (c Card) MatchAnchor(transcript string, threshold float64) match.Result {
	return match.Match(transcript, c.AnchorPhrase, threshold)
}

// Keywords returns the distinct words of the anchor and exit phrases, in
// order of first appearance, for recognizer vocabulary hints.
func (c Card) Keywords() []string {
	seen := make(map[string]bool)
	var out []string
	for _, phrase := range []string{c.AnchorPhrase, c.ExitPhrase} {
		for _, w := range match.Tokenize(phrase) {
			if len(w) < 4 || fillers[w] || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// NewDeck orders cards by Order, drops disabled ones and renumbers the rest
// from zero. The input slice is not modified.
func NewDeck(cards []Card) []Card {
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		if c.Enabled {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b Card) int { return cmp.Compare(a.Order, b.Order) })
	for i := range out {
		out[i].Order = i
	}
	return out
}
