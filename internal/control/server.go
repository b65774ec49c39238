// Package control exposes a running session to remote tools over the Model
// Context Protocol. A stage manager's assistant, a stream deck bridge or any
// MCP client can read the session status and drive card navigation and
// teleprompter scrolling through the streamable HTTP endpoint.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
)

// Tool names.
const (
	ToolSessionStatus = "session_status"
	ToolNextCard      = "next_card"
	ToolPreviousCard  = "previous_card"
	ToolJumpToCard    = "jump_to_card"
	ToolPauseScroll   = "pause_scroll"
	ToolResumeScroll  = "resume_scroll"
)

// ErrNoScroller is returned by the scroll tools when no teleprompter is
// attached to the session.
var ErrNoScroller = errors.New("control: teleprompter mode is not active")

// Session is the recognition engine surface the tools drive.
type Session interface {
	Snapshot() recognition.Snapshot
	CurrentCard() (cue.Card, int, bool)
	AdvanceToNextCard(automatic bool) bool
	GoToPreviousCard() bool
	JumpToCard(index int) error
}

// Scroller is the pacing engine surface the scroll tools drive.
type Scroller interface {
	Snapshot() pacing.Snapshot
	Pause()
	Resume()
}

var (
	_ Session  = (*recognition.Engine)(nil)
	_ Scroller = (*pacing.Engine)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithScroller attaches a teleprompter to the scroll tools.
func WithScroller(s Scroller) Option {
	return func(srv *Server) { srv.scroller = s }
}

// WithMetrics overrides the metrics used to count tool calls.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithVersion sets the implementation version advertised to clients.
func WithVersion(v string) Option {
	return func(srv *Server) { srv.version = v }
}

// Server owns the MCP server and its tool handlers.
type Server struct {
	session  Session
	scroller Scroller
	metrics  *observe.Metrics
	version  string
	mcp      *mcp.Server
}

// New builds a control server for session and registers every tool.
func New(session Session, opts ...Option) *Server {
	s := &Server{
		session: session,
		metrics: observe.DefaultMetrics(),
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "cadence", Version: s.version}, nil)
	s.register()
	return s
}

// MCP returns the underlying server, for in-process transports.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Handler serves the streamable HTTP transport. Mount it at /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// ── Tool payloads ────────────────────────────────────────────────────────────

// Empty is the input of tools without arguments.
type Empty struct{}

// JumpInput selects a card.
type JumpInput struct {
	Index int `json:"index" jsonschema:"zero-based card index"`
}

// Status is the output of session_status.
type Status struct {
	State            string        `json:"state"`
	Label            string        `json:"label"`
	SessionID        string        `json:"session_id,omitempty"`
	CardIndex        int           `json:"card_index"`
	CardCount        int           `json:"card_count"`
	ExitPhrase       string        `json:"exit_phrase,omitempty"`
	ExitConfidence   float64       `json:"exit_confidence"`
	AnchorConfidence float64       `json:"anchor_confidence"`
	ElapsedSeconds   float64       `json:"elapsed_seconds"`
	Transitions      int           `json:"transitions"`
	Restarts         int           `json:"restarts"`
	LastError        string        `json:"last_error,omitempty"`
	Scroll           *ScrollStatus `json:"scroll,omitempty"`
}

// ScrollStatus reports the teleprompter state.
type ScrollStatus struct {
	Line           int     `json:"line"`
	Lines          int     `json:"lines"`
	Scrolling      bool    `json:"scrolling"`
	AutoPaused     bool    `json:"auto_paused"`
	SecondsPerLine float64 `json:"seconds_per_line"`
}

// Navigation is the output of the card tools.
type Navigation struct {
	Moved     bool `json:"moved"`
	CardIndex int  `json:"card_index"`
}

// ── Registration ─────────────────────────────────────────────────────────────

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSessionStatus,
		Description: "Report the current card, match confidences and teleprompter state of the running session.",
	}, instrument(s, ToolSessionStatus, s.status))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolNextCard,
		Description: "Advance to the next cue card. Does nothing on the last card.",
	}, instrument(s, ToolNextCard, func(context.Context, Empty) (Navigation, error) {
		moved := s.session.AdvanceToNextCard(false)
		return s.navigation(moved), nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolPreviousCard,
		Description: "Go back to the previous cue card. Does nothing on the first card.",
	}, instrument(s, ToolPreviousCard, func(context.Context, Empty) (Navigation, error) {
		moved := s.session.GoToPreviousCard()
		return s.navigation(moved), nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolJumpToCard,
		Description: "Jump directly to the card at the given zero-based index.",
	}, instrument(s, ToolJumpToCard, func(_ context.Context, in JumpInput) (Navigation, error) {
		before := s.session.Snapshot().CardIndex
		if err := s.session.JumpToCard(in.Index); err != nil {
			return Navigation{}, err
		}
		return s.navigation(before != in.Index), nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolPauseScroll,
		Description: "Pause teleprompter scrolling until resume_scroll is called.",
	}, instrument(s, ToolPauseScroll, func(context.Context, Empty) (ScrollStatus, error) {
		if s.scroller == nil {
			return ScrollStatus{}, ErrNoScroller
		}
		s.scroller.Pause()
		return scrollStatus(s.scroller.Snapshot()), nil
	}))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolResumeScroll,
		Description: "Resume teleprompter scrolling.",
	}, instrument(s, ToolResumeScroll, func(context.Context, Empty) (ScrollStatus, error) {
		if s.scroller == nil {
			return ScrollStatus{}, ErrNoScroller
		}
		s.scroller.Resume()
		return scrollStatus(s.scroller.Snapshot()), nil
	}))
}

// instrument adapts a plain handler to the SDK signature and records the
// call outcome.
func instrument[In, Out any](s *Server, tool string, fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		out, err := fn(ctx, in)
		s.metrics.RecordControlCall(ctx, tool, err)
		if err != nil {
			observe.Logger(ctx).Warn("control: tool failed", "tool", tool, "err", err)
			var zero Out
			return nil, zero, fmt.Errorf("%s: %w", tool, err)
		}
		slog.Debug("control: tool called", "tool", tool)
		return nil, out, nil
	}
}

func (s *Server) status(context.Context, Empty) (Status, error) {
	snap := s.session.Snapshot()
	st := Status{
		State:            snap.State.String(),
		Label:            snap.Label,
		SessionID:        snap.SessionID,
		CardIndex:        snap.CardIndex,
		CardCount:        snap.CardCount,
		ExitConfidence:   snap.ExitConfidence,
		AnchorConfidence: snap.AnchorConfidence,
		ElapsedSeconds:   snap.Elapsed.Seconds(),
		Transitions:      snap.Transitions,
		Restarts:         snap.Restarts,
		LastError:        snap.LastError,
	}
	if card, _, ok := s.session.CurrentCard(); ok {
		st.ExitPhrase = card.ExitPhrase
	}
	if s.scroller != nil {
		sc := scrollStatus(s.scroller.Snapshot())
		st.Scroll = &sc
	}
	return st, nil
}

func (s *Server) navigation(moved bool) Navigation {
	return Navigation{Moved: moved, CardIndex: s.session.Snapshot().CardIndex}
}

func scrollStatus(p pacing.Snapshot) ScrollStatus {
	return ScrollStatus{
		Line:           p.LineIndex,
		Lines:          p.Lines,
		Scrolling:      p.Scrolling,
		AutoPaused:     p.AutoPaused,
		SecondsPerLine: p.SecondsPerLine,
	}
}
