package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/cadence/internal/analytics"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/internal/sessionlog"
)

var (
	colorPrimary = lipgloss.Color("62")
	colorMuted   = lipgloss.Color("241")
	colorCrit    = lipgloss.Color("196")
	colorWarn    = lipgloss.Color("214")
	colorInfo    = lipgloss.Color("39")
	colorSuccess = lipgloss.Color("78")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(colorPrimary).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)

	keyStyle   = lipgloss.NewStyle().Foreground(colorMuted).Width(13)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	cardStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
)

// severityStyle colours an insight badge by severity.
func severityStyle(s analytics.Severity) lipgloss.Style {
	c := colorInfo
	switch s {
	case analytics.SeverityCritical:
		c = colorCrit
	case analytics.SeverityWarning:
		c = colorWarn
	case analytics.SeveritySuccess:
		c = colorSuccess
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c).Width(10)
}

func renderSummary(title string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(keyStyle.Render(r[0]) + " " + r[1])
	}
	return boxStyle.Render(b.String())
}

// renderRecord renders a stored session with its insights.
func renderRecord(rec sessionlog.Record) string {
	rows := [][2]string{
		{"Session", rec.ID},
		{"Label", rec.Label},
		{"Mode", string(rec.Mode)},
		{"Started", rec.StartedAt.Local().Format(time.DateTime)},
		{"Duration", rec.Duration.Round(time.Second).String()},
		{"Cards", fmt.Sprintf("reached %d of %d", rec.FinalCard+1, rec.CardCount)},
		{"Transitions", fmt.Sprintf("%d", len(rec.Transitions))},
		{"Confidence", fmt.Sprintf("%.0f%% average", rec.AverageConfidence*100)},
	}
	if rec.Recording != nil {
		rows = append(rows, [2]string{"Recording", rec.Recording.Path})
	}

	var b strings.Builder
	b.WriteString(renderSummary("Session report", rows))
	b.WriteString("\n")
	if len(rec.Insights) == 0 {
		b.WriteString(mutedStyle.Render("no insights: the session produced no confidence data"))
		return b.String()
	}
	for _, in := range rec.Insights {
		b.WriteString("\n")
		b.WriteString(renderInsight(in))
	}
	return b.String()
}

func renderInsight(in analytics.Insight) string {
	head := severityStyle(in.Severity).Render(strings.ToUpper(string(in.Severity))) + " " +
		lipgloss.NewStyle().Bold(true).Render(in.Title)
	detail := in.Detail
	if in.Lines != nil {
		detail += " " + mutedStyle.Render("(lines "+in.Lines.String()+")")
	}
	return head + "\n" + lipgloss.NewStyle().PaddingLeft(11).Width(80).Render(detail)
}

// renderList renders one row per stored session.
func renderList(recs []sessionlog.Record) string {
	if len(recs) == 0 {
		return mutedStyle.Render("no sessions stored yet")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d sessions", len(recs))))
	for _, r := range recs {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s  %s  %-12s %8s  %3.0f%%  %s",
			mutedStyle.Render(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.Mode,
			r.Duration.Round(time.Second),
			r.AverageConfidence*100,
			r.Label,
		))
	}
	return b.String()
}

// ── Live view ─────────────────────────────────────────────────────────────────

// liveHooks prints card changes and recognizer status while a session runs.
func liveHooks(w io.Writer, script *cue.Script) recognition.Hooks {
	total := len(script.Cards)
	return recognition.Hooks{
		OnCardTransition: func(index int, card cue.Card, t recognition.Transition) {
			how := "spoken"
			if !t.Automatic {
				how = "manual"
			}
			fmt.Fprintf(w, "%s %s\n%s\n",
				cardStyle.Render(fmt.Sprintf("▶ card %d/%d", index+1, total)),
				mutedStyle.Render("("+how+")"),
				card.FullText,
			)
		},
		OnStatus: func(st recognition.Status) {
			if st.Message == "" {
				return
			}
			style := mutedStyle
			if st.Fatal {
				style = lipgloss.NewStyle().Foreground(colorCrit)
			}
			fmt.Fprintln(w, style.Render("· "+st.Message))
		},
	}
}

// livePacingHooks prints teleprompter lines as they scroll.
func livePacingHooks(w io.Writer) pacing.Hooks {
	return pacing.Hooks{
		OnLine: func(_ int, line pacing.Line) {
			fmt.Fprintln(w, "  "+line.Text)
		},
		OnPause: func(paused bool, reason string) {
			if paused {
				fmt.Fprintln(w, mutedStyle.Render("  ‖ paused ("+reason+")"))
			}
		},
	}
}
