package control_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/cadence/internal/control"
	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/pacing"
	"github.com/MrWong99/cadence/internal/recognition"
	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt/mock"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	session  *recognition.Engine
	scroller *pacing.Engine
	reader   *sdkmetric.ManualReader
	client   *mcp.ClientSession
}

func newHarness(t *testing.T, withScroller bool) *harness {
	t.Helper()
	clk := clock.NewManual(epoch)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{reader: reader}
	h.session = recognition.New(&mock.Provider{}, recognition.DefaultConfig(),
		recognition.WithClock(clk), recognition.WithMetrics(metrics))
	deck := []cue.Card{
		cue.NewCard(0, "Good evening everybody, thanks for coming out tonight.", "good evening everybody", "coming out tonight"),
		cue.NewCard(1, "So I bought a penguin last week.", "bought a penguin", "penguin last week"),
		cue.NewCard(2, "And that is why I only date accountants.", "that is why", "only date accountants"),
	}
	if err := h.session.Configure(deck); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	opts := []control.Option{control.WithMetrics(metrics), control.WithVersion("test")}
	if withScroller {
		h.scroller = pacing.New(pacing.DefaultConfig(), pacing.WithClock(clk), pacing.WithMetrics(metrics))
		h.scroller.Configure(cue.Lines(deck, 20))
		if err := h.scroller.Start(context.Background()); err != nil {
			t.Fatalf("pacing Start: %v", err)
		}
		t.Cleanup(h.scroller.Stop)
		opts = append(opts, control.WithScroller(h.scroller))
	}
	srv := control.New(h.session, opts...)

	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "control-test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	h.client = cs
	return h
}

// call invokes tool and decodes its structured output into out.
func (h *harness) call(t *testing.T, tool string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := h.client.CallTool(context.Background(), &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", tool, err)
	}
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatalf("marshal structured content: %v", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s output %s: %v", tool, raw, err)
		}
	}
	return res
}

func TestServer_ListsTools(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)

	want := map[string]bool{
		control.ToolSessionStatus: false,
		control.ToolNextCard:      false,
		control.ToolPreviousCard:  false,
		control.ToolJumpToCard:    false,
		control.ToolPauseScroll:   false,
		control.ToolResumeScroll:  false,
	}
	for tool, err := range h.client.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not listed", name)
		}
	}
}

func TestServer_Navigation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)

	var nav control.Navigation
	h.call(t, control.ToolNextCard, nil, &nav)
	if !nav.Moved || nav.CardIndex != 1 {
		t.Errorf("next_card: got %+v", nav)
	}

	h.call(t, control.ToolJumpToCard, map[string]any{"index": 2}, &nav)
	if !nav.Moved || nav.CardIndex != 2 {
		t.Errorf("jump_to_card: got %+v", nav)
	}

	h.call(t, control.ToolNextCard, nil, &nav)
	if nav.Moved || nav.CardIndex != 2 {
		t.Errorf("next_card on last card: got %+v", nav)
	}

	h.call(t, control.ToolPreviousCard, nil, &nav)
	if !nav.Moved || nav.CardIndex != 1 {
		t.Errorf("previous_card: got %+v", nav)
	}

	trs := h.session.Transitions()
	if len(trs) != 3 {
		t.Fatalf("transitions: got %d, want 3", len(trs))
	}
	for _, tr := range trs {
		if tr.Automatic {
			t.Errorf("remote navigation must be manual: %+v", tr)
		}
	}
}

func TestServer_JumpOutOfRange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)

	res := h.call(t, control.ToolJumpToCard, map[string]any{"index": 9}, nil)
	if !res.IsError {
		t.Fatal("expected tool error for out-of-range index")
	}
	if got := h.session.Snapshot().CardIndex; got != 0 {
		t.Errorf("card index changed to %d", got)
	}
}

func TestServer_Status(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	var st control.Status
	h.call(t, control.ToolSessionStatus, nil, &st)
	if st.State != recognition.StateIdle.String() {
		t.Errorf("state: got %q", st.State)
	}
	if st.CardCount != 3 || st.CardIndex != 0 {
		t.Errorf("cards: got %d/%d", st.CardIndex, st.CardCount)
	}
	if st.ExitPhrase != "coming out tonight" {
		t.Errorf("exit phrase: got %q", st.ExitPhrase)
	}
	if st.Scroll == nil || !st.Scroll.Scrolling || st.Scroll.Lines == 0 {
		t.Errorf("scroll: got %+v", st.Scroll)
	}
}

func TestServer_ScrollControl(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	var sc control.ScrollStatus
	h.call(t, control.ToolPauseScroll, nil, &sc)
	if sc.Scrolling {
		t.Error("pause_scroll: still scrolling")
	}
	if h.scroller.Snapshot().Scrolling {
		t.Error("engine still scrolling after pause")
	}

	h.call(t, control.ToolResumeScroll, nil, &sc)
	if !sc.Scrolling {
		t.Error("resume_scroll: not scrolling")
	}
}

func TestServer_ScrollWithoutTeleprompter(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)

	for _, tool := range []string{control.ToolPauseScroll, control.ToolResumeScroll} {
		res := h.call(t, tool, nil, nil)
		if !res.IsError {
			t.Errorf("%s: expected tool error without teleprompter", tool)
		}
	}

	var st control.Status
	h.call(t, control.ToolSessionStatus, nil, &st)
	if st.Scroll != nil {
		t.Errorf("status reports scroll without teleprompter: %+v", st.Scroll)
	}
}

func TestServer_RecordsCalls(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.call(t, control.ToolNextCard, nil, nil)
	h.call(t, control.ToolPauseScroll, nil, nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cadence.control.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				tool, _ := dp.Attributes.Value("tool")
				st, _ := dp.Attributes.Value("status")
				counts[tool.AsString()+"/"+st.AsString()] += dp.Value
			}
		}
	}
	if counts["next_card/ok"] != 1 || counts["pause_scroll/error"] != 1 {
		t.Errorf("control call counts: %v", counts)
	}
}

func TestServer_StreamableHTTP(t *testing.T) {
	t.Parallel()
	session := recognition.New(&mock.Provider{}, recognition.DefaultConfig())
	if err := session.Configure([]cue.Card{
		cue.NewCard(0, "one two three", "", "two three"),
		cue.NewCard(1, "four five six", "", "five six"),
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	ts := httptest.NewServer(control.New(session).Handler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "http-test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: control.ToolNextCard})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("next_card failed: %+v", res.Content)
	}
	if got := session.Snapshot().CardIndex; got != 1 {
		t.Errorf("card index: got %d, want 1", got)
	}
}
