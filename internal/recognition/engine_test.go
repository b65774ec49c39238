package recognition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cadence/internal/cue"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/audio"
	amock "github.com/MrWong99/cadence/pkg/audio/mock"
	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/stt/mock"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// showDeck is a five-card set with unrelated exit phrases.
func showDeck() []cue.Card {
	exits := []string{
		"and that is why I never fly economy",
		"my dentist still sends me christmas cards",
		"the parrot learned every single swear word",
		"so now I rent a goat on weekends",
		"thank you all and goodnight",
	}
	cards := make([]cue.Card, len(exits))
	for i, exit := range exits {
		cards[i] = cue.NewCard(i, "setup words then "+exit, "", exit)
	}
	return cards
}

// deck builds cards from exit phrases, with anchors derived from the text.
func deck(texts ...string) []cue.Card {
	cards := make([]cue.Card, len(texts))
	for i, t := range texts {
		cards[i] = cue.NewCard(i, t, "", t)
	}
	return cards
}

// events collects hook output.
type events struct {
	mu          sync.Mutex
	transitions []int
	statuses    []Status
	levels      []float64
	confidences []Confidence
	transcripts chan string
}

func newEvents() *events {
	return &events{transcripts: make(chan string, 64)}
}

func (ev *events) hooks() Hooks {
	return Hooks{
		OnCardTransition: func(i int, _ cue.Card, _ Transition) {
			ev.mu.Lock()
			defer ev.mu.Unlock()
			ev.transitions = append(ev.transitions, i)
		},
		OnStatus: func(s Status) {
			ev.mu.Lock()
			defer ev.mu.Unlock()
			ev.statuses = append(ev.statuses, s)
		},
		OnAudioLevel: func(l float64) {
			ev.mu.Lock()
			defer ev.mu.Unlock()
			ev.levels = append(ev.levels, l)
		},
		OnConfidence: func(c Confidence) {
			ev.mu.Lock()
			defer ev.mu.Unlock()
			ev.confidences = append(ev.confidences, c)
		},
		OnTranscript: func(text string, _ bool) {
			ev.transcripts <- text
		},
	}
}

func (ev *events) statusList() []Status {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]Status(nil), ev.statuses...)
}

// awaitTranscript waits for the pump to deliver one transcript.
func (ev *events) awaitTranscript(t *testing.T) string {
	t.Helper()
	select {
	case s := <-ev.transcripts:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
		return ""
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	engine   *Engine
	provider *mock.Provider
	clock    *clock.Manual
	events   *events
}

func newFixture(t *testing.T, cards []cue.Card, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		provider: &mock.Provider{},
		clock:    clock.NewManual(epoch),
		events:   newEvents(),
	}
	base := []Option{WithClock(f.clock), WithHooks(f.events.hooks()), WithMetrics(testMetrics(t))}
	f.engine = New(f.provider, DefaultConfig(), append(base, opts...)...)
	if cards != nil {
		if err := f.engine.Configure(cards); err != nil {
			t.Fatalf("Configure: %v", err)
		}
	}
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.engine.Start(context.Background(), "test set"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// say feeds a final transcript directly.
func (f *fixture) say(text string) {
	f.engine.IngestTranscript(Event{Text: text, Final: true})
}

func TestEndToEnd_ExitPhrasesInOrder(t *testing.T) {
	t.Parallel()

	cards := showDeck()
	f := newFixture(t, cards)
	f.start(t)

	for _, c := range cards {
		f.clock.Advance(2 * time.Second)
		f.say(c.ExitPhrase)
	}

	got := f.engine.Transitions()
	if len(got) != 4 {
		t.Fatalf("got %d transitions, want 4: %+v", len(got), got)
	}
	for i, tr := range got {
		if tr.From != i || tr.To != i+1 || !tr.Automatic {
			t.Errorf("transition[%d] = %+v, want %d->%d automatic", i, tr, i, i+1)
		}
		if want := time.Duration(i+1) * 2 * time.Second; tr.At != want {
			t.Errorf("transition[%d].At = %v, want %v", i, tr.At, want)
		}
	}
	if s := f.engine.Snapshot(); s.CardIndex != 4 || s.LastDetection != DetectionExit {
		t.Errorf("snapshot = %+v, want last card with exit detection", s)
	}
}

func TestEndToEnd_ThroughRecognizerStream(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	cards := showDeck()
	f := newFixture(t, cards)
	f.provider.Sessions = []*mock.Session{sess}
	f.start(t)

	for _, c := range cards {
		f.clock.Advance(2 * time.Second)
		sess.FinalsCh <- stt.Transcript{Text: c.ExitPhrase, IsFinal: true}
		f.events.awaitTranscript(t)
	}

	f.events.mu.Lock()
	got := append([]int(nil), f.events.transitions...)
	f.events.mu.Unlock()
	want := []int{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("OnCardTransition = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OnCardTransition = %v, want %v", got, want)
			break
		}
	}
}

func TestDebounce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck(
		"see you at the bar later",
		"see you at the bar later",
		"something else entirely different",
	))
	f.start(t)

	f.say("see you at the bar later")
	if got := f.engine.Snapshot().CardIndex; got != 1 {
		t.Fatalf("card = %d, want 1", got)
	}

	for range 2 {
		f.clock.Advance(500 * time.Millisecond)
		f.say("see you at the bar later")
		s := f.engine.Snapshot()
		if s.CardIndex != 1 {
			t.Fatalf("advanced to %d within the debounce window", s.CardIndex)
		}
		if s.ExitConfidence < 0.7 {
			t.Errorf("exit confidence = %v, want refreshed even while debounced", s.ExitConfidence)
		}
	}

	f.clock.Advance(600 * time.Millisecond)
	f.say("see you at the bar later")
	if got := f.engine.Snapshot().CardIndex; got != 2 {
		t.Errorf("card = %d, want 2 after the window", got)
	}
}

func TestPreviousCardClearsDebounce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck("first exit phrase here", "second card closing words", "third one"))
	f.start(t)

	f.say("first exit phrase here")
	f.clock.Advance(200 * time.Millisecond)
	if !f.engine.GoToPreviousCard() {
		t.Fatal("GoToPreviousCard = false")
	}
	f.clock.Advance(100 * time.Millisecond)
	f.say("first exit phrase here")

	got := f.engine.Transitions()
	want := []Transition{
		{From: 0, To: 1, At: 0, Automatic: true},
		{From: 1, To: 0, At: 200 * time.Millisecond},
		{From: 0, To: 1, At: 300 * time.Millisecond, Automatic: true},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUtteranceWindowing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck(
		"thank you all for coming out tonight",
		"thank you all for coming",
		"last card",
	))
	f.start(t)

	f.engine.IngestTranscript(Event{Text: "thank you all for coming out tonight"})
	if got := f.engine.Snapshot().CardIndex; got != 1 {
		t.Fatalf("card = %d, want 1", got)
	}

	// The same utterance keeps growing; its old words must not match card 1.
	f.clock.Advance(2 * time.Second)
	f.engine.IngestTranscript(Event{Text: "thank you all for coming out tonight seriously"})
	f.engine.IngestTranscript(Event{Text: "thank you all for coming out tonight seriously", Final: true})
	if got := f.engine.Snapshot().CardIndex; got != 1 {
		t.Fatalf("card = %d, want still 1", got)
	}

	f.clock.Advance(2 * time.Second)
	f.say("thank you all for coming")
	if got := f.engine.Snapshot().CardIndex; got != 2 {
		t.Errorf("card = %d, want 2 on a new utterance", got)
	}
}

func TestAnchorDetection(t *testing.T) {
	t.Parallel()

	cards := []cue.Card{
		cue.NewCard(0, "good evening everybody how are we doing", "good evening everybody", "how are we doing"),
		cue.NewCard(1, "next bit", "", ""),
	}
	f := newFixture(t, cards)
	f.start(t)

	f.engine.IngestTranscript(Event{Text: "good evening everybody"})
	s := f.engine.Snapshot()
	if s.LastDetection != DetectionAnchor || s.CardIndex != 0 {
		t.Errorf("snapshot = %+v, want anchor detection on card 0", s)
	}
	if s.AnchorConfidence < 0.9 {
		t.Errorf("anchor confidence = %v, want shaped near 1", s.AnchorConfidence)
	}
	if s.Partial != "good evening everybody" {
		t.Errorf("partial = %q, want the interim transcript", s.Partial)
	}
}

func TestFillerOnlyExitNeverFires(t *testing.T) {
	t.Parallel()

	cards := []cue.Card{
		cue.NewCard(0, "where was I, um so", "where was I", "um so"),
		cue.NewCard(1, "the real closer", "", ""),
	}
	if cards[0].Valid() {
		t.Fatal("filler-only exit phrase should be invalid")
	}
	f := newFixture(t, cards)
	f.start(t)

	f.say("so um yeah where was I")
	s := f.engine.Snapshot()
	if s.CardIndex != 0 || len(f.engine.Transitions()) != 0 {
		t.Errorf("snapshot = %+v, filler speech must not advance", s)
	}
	if s.ExitConfidence != 0 {
		t.Errorf("exit confidence = %v, want 0 for an invalid card", s.ExitConfidence)
	}

	// Manual navigation still works past the invalid card.
	if !f.engine.AdvanceToNextCard(false) {
		t.Error("manual advance should move past an invalid card")
	}
}

// gatedProvider blocks StartStream until release is closed.
type gatedProvider struct {
	mock.Provider
	entered, release chan struct{}
}

func (p *gatedProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	close(p.entered)
	<-p.release
	return p.Provider.StartStream(ctx, cfg)
}

func TestStopDuringStart(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	p.Sessions = []*mock.Session{sess}
	ev := newEvents()
	e := New(p, DefaultConfig(), WithClock(clock.NewManual(epoch)), WithHooks(ev.hooks()), WithMetrics(testMetrics(t)))
	if err := e.Configure(showDeck()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	t.Cleanup(e.Stop)

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background(), "test set") }()
	<-p.entered

	if sum, err := e.StopAndFinalize(); err != nil || sum.SessionID != "" {
		t.Fatalf("StopAndFinalize during start = %+v, %v", sum, err)
	}
	close(p.release)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStartAborted) {
			t.Fatalf("Start = %v, want ErrStartAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
	if !sess.Closed() {
		t.Error("recognizer stream left open")
	}
	st := ev.statusList()
	if len(st) != 1 || st[0].State != StateIdle || st[0].Fatal {
		t.Errorf("statuses = %+v, want one non-fatal idle", st)
	}

	// The aborted start leaves the engine ready for another session.
	p.entered, p.release = make(chan struct{}), make(chan struct{})
	close(p.release)
	if err := e.Start(context.Background(), "test set"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if e.State() != StateListening {
		t.Errorf("state = %v, want listening", e.State())
	}
}

func TestLastCardExitIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck("opening closer words", "final goodnight everyone"))
	f.start(t)

	f.say("opening closer words")
	f.clock.Advance(2 * time.Second)
	f.say("final goodnight everyone")

	if n := len(f.engine.Transitions()); n != 1 {
		t.Errorf("transitions = %d, want 1", n)
	}
	s := f.engine.Snapshot()
	if s.CardIndex != 1 || s.LastDetection != DetectionExit {
		t.Errorf("snapshot = %+v, want card 1 with exit detection", s)
	}
}

func TestManualNavigation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck("one", "two", "three"))

	if f.engine.GoToPreviousCard() {
		t.Error("GoToPreviousCard on first card = true")
	}
	if !f.engine.AdvanceToNextCard(false) {
		t.Error("AdvanceToNextCard = false")
	}
	if err := f.engine.JumpToCard(2); err != nil {
		t.Errorf("JumpToCard(2): %v", err)
	}
	if f.engine.AdvanceToNextCard(false) {
		t.Error("AdvanceToNextCard on last card = true")
	}
	if err := f.engine.JumpToCard(3); !errors.Is(err, ErrCardOutOfRange) {
		t.Errorf("JumpToCard(3) = %v, want ErrCardOutOfRange", err)
	}
	if err := f.engine.JumpToCard(2); err != nil {
		t.Errorf("JumpToCard(current) = %v", err)
	}

	got := f.engine.Transitions()
	if len(got) != 2 || got[0].Automatic || got[1] != (Transition{From: 1, To: 2}) {
		t.Errorf("transitions = %+v", got)
	}
	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	if len(f.events.transitions) != 2 {
		t.Errorf("OnCardTransition calls = %v, want 2", f.events.transitions)
	}
}

func TestIngestIgnoredWhenIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, showDeck())
	f.say("and that is why I never fly economy")
	if s := f.engine.Snapshot(); s.CardIndex != 0 || s.State != StateIdle {
		t.Errorf("snapshot = %+v, want idle on card 0", s)
	}
}

func TestStart_Failures(t *testing.T) {
	t.Parallel()

	t.Run("no cards", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		if err := f.engine.Start(context.Background(), "x"); !errors.Is(err, ErrNoCards) {
			t.Errorf("Start = %v, want ErrNoCards", err)
		}
		if err := f.engine.Configure(nil); !errors.Is(err, ErrNoCards) {
			t.Errorf("Configure(nil) = %v, want ErrNoCards", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, showDeck())
		f.provider.StartStreamErr = errors.Join(errors.New("microphone blocked"), stt.ErrPermissionDenied)

		err := f.engine.Start(context.Background(), "x")
		if !errors.Is(err, stt.ErrPermissionDenied) {
			t.Fatalf("Start = %v, want ErrPermissionDenied", err)
		}
		if stt.Classify(err) != stt.Fatal {
			t.Errorf("Classify = %v, want fatal", stt.Classify(err))
		}
		if f.engine.State() != StateIdle {
			t.Errorf("state = %v, want idle", f.engine.State())
		}
		if !strings.Contains(f.engine.LastError(), "microphone blocked") {
			t.Errorf("LastError = %q", f.engine.LastError())
		}
		st := f.events.statusList()
		if len(st) != 1 || !st[0].Fatal {
			t.Errorf("statuses = %+v, want one fatal", st)
		}
	})

	t.Run("bad recognizer format", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, showDeck())
		cfg := DefaultConfig()
		cfg.Format = audio.Format{SampleRate: 4000, Channels: 1}
		f.engine.cfg = cfg

		err := f.engine.Start(context.Background(), "x")
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Fatalf("Start = %v, want ErrUnsupportedFormat", err)
		}
		if n := f.provider.StartStreamCallCount(); n != 0 {
			t.Errorf("StartStream calls = %d, want 0", n)
		}
	})

	t.Run("bad source format", func(t *testing.T) {
		t.Parallel()
		src := &amock.Source{FormatResult: audio.Format{SampleRate: 16000, Channels: 6}}
		f := newFixture(t, showDeck(), WithAudioSource(src))

		err := f.engine.Start(context.Background(), "x")
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			t.Fatalf("Start = %v, want ErrUnsupportedFormat", err)
		}
		if f.engine.State() != StateIdle {
			t.Errorf("state = %v, want idle", f.engine.State())
		}
	})

	t.Run("source stream fails", func(t *testing.T) {
		t.Parallel()
		sess := mock.NewSession()
		src := &amock.Source{FormatResult: audio.Format{SampleRate: 16000, Channels: 1}, StreamErr: errors.New("device busy")}
		f := newFixture(t, showDeck(), WithAudioSource(src))
		f.provider.Sessions = []*mock.Session{sess}

		if err := f.engine.Start(context.Background(), "x"); err == nil {
			t.Fatal("Start = nil, want error")
		}
		if !sess.Closed() {
			t.Error("recognizer stream left open after failed start")
		}
	})
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, showDeck())
	f.start(t)
	if err := f.engine.Start(context.Background(), "again"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := f.engine.Configure(showDeck()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Configure while listening = %v, want ErrAlreadyRunning", err)
	}
	if f.clock.Scheduled() != 1 {
		t.Errorf("scheduled = %d, want watchdog", f.clock.Scheduled())
	}

	f.clock.Advance(3 * time.Second)
	f.say("and that is why I never fly economy")
	sum, err := f.engine.StopAndFinalize()
	if err != nil {
		t.Fatalf("StopAndFinalize: %v", err)
	}
	if sum.Label != "test set" || sum.Duration != 3*time.Second || sum.FinalCard != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Transitions) != 1 || len(sum.DataPoints) != 1 {
		t.Errorf("summary has %d transitions, %d points; want 1 and 1", len(sum.Transitions), len(sum.DataPoints))
	}
	if sum.DataPoints[0].At != 3*time.Second {
		t.Errorf("data point at %v, want 3s", sum.DataPoints[0].At)
	}

	s := f.engine.Snapshot()
	if s.State != StateFinished || s.CardIndex != 1 || s.ExitConfidence != 0 || s.Partial != "" {
		t.Errorf("after stop snapshot = %+v, want finished on card 1 with cleared fields", s)
	}
	if f.clock.Scheduled() != 0 {
		t.Errorf("scheduled after stop = %d, want 0", f.clock.Scheduled())
	}

	// Idempotent.
	if again, err := f.engine.StopAndFinalize(); err != nil || again.SessionID != "" {
		t.Errorf("second StopAndFinalize = %+v, %v", again, err)
	}

	// Clean restart keeps the card position.
	f.start(t)
	if got := f.engine.Snapshot().CardIndex; got != 1 {
		t.Errorf("card after restart = %d, want 1", got)
	}
	if n := len(f.engine.Transitions()); n != 0 {
		t.Errorf("transitions after restart = %d, want fresh log", n)
	}
}

func TestStartStreamConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck("closing punchline about penguins"))
	f.start(t)

	calls := f.provider.StartStreamCalls
	if len(calls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(calls))
	}
	cfg := calls[0].Cfg
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("stream format = %d/%d, want 16000/1", cfg.SampleRate, cfg.Channels)
	}
	var kws []string
	for _, k := range cfg.Keywords {
		kws = append(kws, k.Keyword)
	}
	if got := strings.Join(kws, ","); got != "closing,punchline,about,penguins" {
		t.Errorf("keywords = %q", got)
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, deck("alpha bravo charlie delta", "echo"))
	f.start(t)

	bad := DefaultConfig()
	bad.ExitThreshold = 0
	if err := f.engine.UpdateConfig(bad); err == nil {
		t.Error("UpdateConfig(invalid) = nil")
	}

	strict := DefaultConfig()
	strict.ExitThreshold = 1
	if err := f.engine.UpdateConfig(strict); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	f.say("alpha bravo charlie")
	if got := f.engine.Snapshot().CardIndex; got != 0 {
		t.Errorf("card = %d, want no advance at threshold 1", got)
	}
	f.clock.Advance(2 * time.Second)
	f.say("alpha bravo charlie delta")
	if got := f.engine.Snapshot().CardIndex; got != 1 {
		t.Errorf("card = %d, want advance on exact phrase", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := Config{ExitThreshold: 2}
	err := bad.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"exit_threshold", "anchor_threshold", "stall_timeout", "format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestRecordingPath(t *testing.T) {
	t.Parallel()

	got := recordingPath("/tmp/rec", "  Friday Late Show! ", epoch)
	if want := "/tmp/rec/friday-late-show-20260301-200000.pcm"; got != want {
		t.Errorf("recordingPath = %q, want %q", got, want)
	}
	if got := recordingPath("d", "!!!", epoch); !strings.HasSuffix(got, "session-20260301-200000.pcm") {
		t.Errorf("recordingPath(empty slug) = %q", got)
	}
}
