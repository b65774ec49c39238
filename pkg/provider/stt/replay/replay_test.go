package replay_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/stt/replay"
)

const script = `
# rehearsal
0.5     good evening everybody
2.5s    thank you all
1m      goodnight
3       !nospeech
4       !error mic unplugged
`

func TestParseScript(t *testing.T) {
	t.Parallel()

	entries, err := replay.ParseScript(strings.NewReader(script))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	want := []struct {
		at   time.Duration
		text string
	}{
		{500 * time.Millisecond, "good evening everybody"},
		{2500 * time.Millisecond, "thank you all"},
		{3 * time.Second, ""},
		{4 * time.Second, ""},
		{time.Minute, "goodnight"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].At != w.at || entries[i].Text != w.text {
			t.Errorf("entry %d = %+v, want at=%s text=%q", i, entries[i], w.at, w.text)
		}
	}
	if !errors.Is(entries[2].Err, stt.ErrNoSpeech) {
		t.Errorf("entry 2 err = %v, want ErrNoSpeech", entries[2].Err)
	}
	if stt.Classify(entries[3].Err) != stt.Surfaced {
		t.Errorf("entry 3 class = %v, want surfaced", stt.Classify(entries[3].Err))
	}
}

func TestParseScript_BadOffset(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"soon hello", "-1 hello", "-2s hello"} {
		if _, err := replay.ParseScript(strings.NewReader(in)); err == nil {
			t.Errorf("ParseScript(%q) succeeded, want error", in)
		}
	}
}

func TestProvider_PlaysOnClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	p := replay.New([]replay.Entry{
		{At: time.Second, Text: "good evening everybody"},
		{At: 3 * time.Second, Err: stt.ErrCanceled},
	}, replay.WithClock(clk), replay.WithWordInterval(100*time.Millisecond), replay.WithPollInterval(10*time.Millisecond))

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	clk.Advance(900 * time.Millisecond)
	if got := len(sess.Partials()); got != 0 {
		t.Fatalf("partials before first entry = %d, want 0", got)
	}

	clk.Advance(300 * time.Millisecond)
	for _, want := range []string{"good", "good evening"} {
		if got := (<-sess.Partials()).Text; got != want {
			t.Errorf("partial = %q, want %q", got, want)
		}
	}
	final := <-sess.Finals()
	if !final.IsFinal || final.Text != "good evening everybody" {
		t.Errorf("final = %+v", final)
	}

	select {
	case <-p.Exhausted():
		t.Fatal("exhausted before the last event")
	default:
	}
	clk.Advance(2 * time.Second)
	if err := <-sess.Errors(); !errors.Is(err, stt.ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
	select {
	case <-p.Exhausted():
	default:
		t.Error("not exhausted after the last event")
	}
}

func TestProvider_RestartContinues(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(0, 0))
	p := replay.New([]replay.Entry{
		{At: time.Second, Text: "first"},
		{At: 2 * time.Second, Text: "second"},
	}, replay.WithClock(clk))

	first, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	clk.Advance(1500 * time.Millisecond)
	if got := (<-first.Finals()).Text; got != "first" {
		t.Fatalf("first stream final = %q", got)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := first.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}

	second, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	defer second.Close()
	if err := second.SendAudio(make([]byte, 64)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	clk.Advance(time.Second)
	if got := (<-second.Finals()).Text; got != "second" {
		t.Errorf("second stream final = %q, want %q", got, "second")
	}
	if got := p.AudioBytes(); got != 64 {
		t.Errorf("AudioBytes = %d, want 64", got)
	}
	if clk.Scheduled() != 1 {
		t.Errorf("Scheduled = %d, want only the open stream", clk.Scheduled())
	}
}

func TestProvider_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := replay.New(nil).StartStream(ctx, stt.StreamConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
