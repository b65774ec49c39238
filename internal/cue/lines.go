package cue

import (
	"strings"

	"github.com/MrWong99/cadence/internal/pacing"
)

// DefaultLineWidth is the teleprompter wrap width in characters.
const DefaultLineWidth = 42

// Lines flattens cards into teleprompter lines, word-wrapped at width
// characters. Every line carries its card's ID as the block id. A word longer
// than width gets a line of its own.
func Lines(cards []Card, width int) []pacing.Line {
	if width <= 0 {
		width = DefaultLineWidth
	}
	var out []pacing.Line
	for _, c := range cards {
		var cur strings.Builder
		flush := func() {
			if cur.Len() > 0 {
				out = append(out, pacing.Line{Text: cur.String(), Block: c.ID})
				cur.Reset()
			}
		}
		for _, w := range strings.Fields(c.FullText) {
			if cur.Len() > 0 && cur.Len()+1+len(w) > width {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(w)
		}
		flush()
	}
	return out
}
