package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		cfg  stt.StreamConfig
		want map[string]string
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"},
			want: map[string]string{
				"model": "nova-3", "language": "en", "punctuate": "true",
				"interim_results": "true", "sample_rate": "16000", "channels": "1",
				"encoding": "linear16",
			},
		},
		{
			name: "provider overrides",
			opts: []Option{WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000), WithEndpointing(300 * time.Millisecond)},
			want: map[string]string{"model": "base", "language": "de-DE", "sample_rate": "48000", "endpointing": "300"},
		},
		{
			name: "stream language wins",
			opts: []Option{WithLanguage("en")},
			cfg:  stt.StreamConfig{Language: "fr-FR", SampleRate: 16000},
			want: map[string]string{"language": "fr-FR"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("parse URL: %v", err)
			}
			q := u.Query()
			for k, want := range tt.want {
				assertEqual(t, k, want, q.Get(k))
			}
		})
	}
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()

	kws := []stt.KeywordBoost{{Keyword: "encore", Boost: 5}, {Keyword: "goodnight", Boost: 3.5}}

	nova3, _ := New("key")
	raw, err := nova3.buildURL(stt.StreamConfig{Keywords: kws})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	if got := u.Query()["keyterm"]; !slices.Equal(got, []string{"encore", "goodnight"}) {
		t.Errorf("keyterm = %v, want [encore goodnight]", got)
	}
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("nova-3 should not send boosted keywords")
	}

	base, _ := New("key", WithModel("base"))
	raw, err = base.buildURL(stt.StreamConfig{Keywords: kws})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ = url.Parse(raw)
	if got := u.Query()["keywords"]; !slices.Equal(got, []string{"encore:5", "goodnight:3.5"}) {
		t.Errorf("keywords = %v, want [encore:5 goodnight:3.5]", got)
	}

	raw, _ = base.buildURL(stt.StreamConfig{})
	u, _ = url.Parse(raw)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("expected no keywords param when none provided")
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 2.5,
		"duration": 1.0,
		"channel": {
			"alternatives": [{
				"transcript": "Thank you all",
				"confidence": 0.95,
				"words": [
					{"word": "thank", "start": 2.5, "end": 2.8, "confidence": 0.97},
					{"word": "you", "start": 2.8, "end": 3.0, "confidence": 0.93},
					{"word": "all", "start": 3.0, "end": 3.5, "confidence": 0.91}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Thank you all", tr.Text)
	if tr.Timestamp != 2500*time.Millisecond || tr.Duration != time.Second {
		t.Errorf("timing = %s+%s, want 2.5s+1s", tr.Timestamp, tr.Duration)
	}
	if got := tr.SegmentConfidences(); !slices.Equal(got, []float64{0.97, 0.93, 0.91}) {
		t.Errorf("SegmentConfidences = %v", got)
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"empty partial":      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":""}]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		if _, ok := parseDeepgramResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

func TestParseDeepgramError(t *testing.T) {
	t.Parallel()

	err := parseDeepgramError([]byte(`{"type":"Error","description":"bad audio"}`))
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Errorf("err = %v, want description", err)
	}
	if stt.Classify(err) != stt.Surfaced {
		t.Errorf("Classify = %v, want surfaced", stt.Classify(err))
	}
	if err := parseDeepgramError([]byte(`{"type":"Results"}`)); err != nil {
		t.Errorf("Results message parsed as error: %v", err)
	}
}

// ---- live session tests ----

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		typ, data, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		got <- data
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"good","confidence":0.8}]}}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"goodnight everybody","confidence":0.9}]}}`))
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-got:
		if !slices.Equal(data, []byte{1, 2, 3, 4}) {
			t.Errorf("server got %v", data)
		}
	case <-ctx.Done():
		t.Fatal("server never received audio")
	}

	select {
	case tr := <-sess.Partials():
		assertEqual(t, "partial", "good", tr.Text)
	case <-ctx.Done():
		t.Fatal("no partial")
	}
	select {
	case tr := <-sess.Finals():
		assertEqual(t, "final", "goodnight everybody", tr.Text)
	case <-ctx.Done():
		t.Fatal("no final")
	}

	if err := sess.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
		t.Errorf("SetKeywords err = %v, want ErrNotSupported", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}
	for range sess.Finals() {
	}
}

func TestStartStream_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, stt.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if stt.Classify(err) != stt.Fatal {
		t.Errorf("Classify = %v, want fatal", stt.Classify(err))
	}
}

func TestStartStream_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(addr, "http")))
	_, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

// ---- Constructor tests ----

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
