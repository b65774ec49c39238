package pacing

import (
	"strings"

	"github.com/google/uuid"
)

// Line is one teleprompter line. Block groups lines that belong to the same
// script segment and is the target of [Engine.JumpToBlock].
type Line struct {
	Text  string
	Block uuid.UUID
}

// words returns the number of whitespace-separated words in l.
func (l Line) words() int {
	return len(strings.Fields(l.Text))
}
