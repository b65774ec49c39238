// Package replay provides a deterministic recognizer that plays back a timed
// transcript instead of listening to audio. It drives rehearsals from a text
// file and end-to-end tests from a simulated clock.
//
// A script has one entry per line: an offset from the start of the first
// stream, then the words spoken at that offset.
//
//	# offset  text
//	0.5       good evening everybody
//	2.5s      thank you all so much for coming
//	1m02s     goodnight
//	3.0       !nospeech
//
// Offsets are seconds ("2.5") or Go durations ("2.5s", "1m02s"). Text starting
// with "!" injects a recognizer error instead: "!nospeech", "!canceled" or
// "!error <message>".
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cadence/pkg/clock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// Entry is one timed line of a replay script.
type Entry struct {
	// At is the offset from the start of the first stream.
	At time.Duration

	// Text is the utterance. Empty when Err is set.
	Text string

	// Err is a recognizer error to emit instead of a transcript.
	Err error
}

// ParseScript reads a replay script. Blank lines and lines starting with '#'
// are skipped. Entries are returned in offset order.
func ParseScript(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		offset, text, _ := strings.Cut(line, " ")
		at, err := parseOffset(offset)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		e := Entry{At: at, Text: strings.TrimSpace(text)}
		if strings.HasPrefix(e.Text, "!") {
			e.Err = parseDirective(e.Text)
			e.Text = ""
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read script: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At < entries[j].At })
	return entries, nil
}

// LoadScript reads a replay script from path.
func LoadScript(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

func parseOffset(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative offset %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative offset %q", s)
	}
	return d, nil
}

func parseDirective(text string) error {
	name, msg, _ := strings.Cut(strings.TrimPrefix(text, "!"), " ")
	switch strings.ToLower(name) {
	case "nospeech":
		return stt.ErrNoSpeech
	case "canceled", "cancelled":
		return stt.ErrCanceled
	default:
		if msg == "" {
			msg = name
		}
		return fmt.Errorf("replay: %s", msg)
	}
}

// Option is a functional option for configuring the replay Provider.
type Option func(*Provider)

// WithClock sets the clock that paces playback. Default: [clock.Real].
func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		p.clk = c
	}
}

// WithWordInterval spreads each entry over growing partial transcripts, one
// word per interval, before the final. Zero emits only finals.
func WithWordInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.wordInterval = d
	}
}

// WithPollInterval sets how often due entries are checked. Default: 20ms.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.poll = d
	}
}

// event is a single scheduled emission.
type event struct {
	at      time.Duration
	text    string
	isFinal bool
	err     error
}

// Provider replays a script. Playback position is shared by every stream the
// provider opens, so a restarted stream picks up where the previous one
// stopped.
type Provider struct {
	clk          clock.Clock
	wordInterval time.Duration
	poll         time.Duration

	mu        sync.Mutex
	entries   []Entry
	events    []event
	next      int
	started   time.Time
	audioSeen int64
	exhausted chan struct{}
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider replaying entries.
func New(entries []Entry, opts ...Option) *Provider {
	p := &Provider{
		clk:       clock.Real{},
		poll:      20 * time.Millisecond,
		entries:   entries,
		exhausted: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.events = p.schedule()
	if len(p.events) == 0 {
		close(p.exhausted)
	}
	return p
}

// schedule expands entries into timed partial and final events.
func (p *Provider) schedule() []event {
	var events []event
	for _, e := range p.entries {
		if e.Err != nil {
			events = append(events, event{at: e.At, err: e.Err})
			continue
		}
		words := strings.Fields(e.Text)
		at := e.At
		if p.wordInterval > 0 && len(words) > 1 {
			for i := 1; i < len(words); i++ {
				events = append(events, event{at: at, text: strings.Join(words[:i], " ")})
				at += p.wordInterval
			}
		}
		events = append(events, event{at: at, text: e.Text, isFinal: true})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].at < events[j].at })
	return events
}

// Exhausted is closed once every scripted event has been emitted.
func (p *Provider) Exhausted() <-chan struct{} { return p.exhausted }

// Duration returns the offset of the last scripted event.
func (p *Provider) Duration() time.Duration {
	if len(p.events) == 0 {
		return 0
	}
	return p.events[len(p.events)-1].at
}

// AudioBytes returns how many audio bytes streams have received. Replay
// ignores their content.
func (p *Provider) AudioBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioSeen
}

// StartStream opens a stream continuing the shared playback position. The
// first call starts the playback clock.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("replay: start stream: %w", err)
	}
	p.mu.Lock()
	if p.started.IsZero() {
		p.started = p.clk.Now()
	}
	p.mu.Unlock()

	s := &session{
		p:        p,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
	}
	s.cancel = p.clk.Every(p.poll, s.pump)
	return s, nil
}

// due pops every event scheduled at or before now.
func (p *Provider) due() []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.events) {
		return nil
	}
	elapsed := p.clk.Now().Sub(p.started)
	start := p.next
	for p.next < len(p.events) && p.events[p.next].at <= elapsed {
		p.next++
	}
	if p.next == len(p.events) && start < p.next {
		close(p.exhausted)
	}
	return p.events[start:p.next]
}

// session is one replay stream. It implements [stt.SessionHandle].
type session struct {
	p        *Provider
	cancel   clock.Cancel
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error

	done   chan struct{}
	once   sync.Once
	sendMu sync.RWMutex
	closed bool
}

// pump emits due events. Runs on the clock's callback goroutine.
func (s *session) pump() {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	for _, ev := range s.p.due() {
		var ok bool
		switch {
		case ev.err != nil:
			ok = trySend(s.errs, ev.err, s.done)
		case ev.isFinal:
			ok = trySend(s.finals, stt.Transcript{Text: ev.text, IsFinal: true, Timestamp: ev.at}, s.done)
		default:
			ok = trySend(s.partials, stt.Transcript{Text: ev.text, Timestamp: ev.at}, s.done)
		}
		if !ok {
			return
		}
	}
}

func trySend[T any](ch chan<- T, v T, done <-chan struct{}) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

var errSessionClosed = errors.New("replay: session is closed")

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	s.p.mu.Lock()
	s.p.audioSeen += int64(len(chunk))
	s.p.mu.Unlock()
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Errors() <-chan error { return s.errs }

// SetKeywords accepts and ignores the keywords.
func (s *session) SetKeywords([]stt.KeywordBoost) error { return nil }

func (s *session) Close() error {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
		s.sendMu.Lock()
		s.closed = true
		close(s.partials)
		close(s.finals)
		close(s.errs)
		s.sendMu.Unlock()
	})
	return nil
}
