package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"full scale square", []int16{-32768, -32768, -32768}, 1},
		{"half scale", []int16{16384, -16384, 16384, -16384}, (20*math.Log10(0.5) + 50) / 50},
		{"below floor", []int16{1, -1, 1, -1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Level(samplesToBytes(tt.samples), audio.DefaultFloorDB)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Level = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestThrottle(t *testing.T) {
	t.Parallel()

	th := audio.NewThrottle(100 * time.Millisecond)
	start := time.Unix(1000, 0)

	var passed []int
	// 1kHz buffers for 350ms: passes at 0, 100, 200, 300ms.
	for ms := range 350 {
		if th.Allow(start.Add(time.Duration(ms) * time.Millisecond)) {
			passed = append(passed, ms)
		}
	}
	if len(passed) != 4 {
		t.Fatalf("passed at %v, want 4 events", passed)
	}
	for i, ms := range passed {
		if ms != i*100 {
			t.Errorf("event %d passed at %dms, want %dms", i, ms, i*100)
		}
	}
	p, d := th.Counts()
	if p != 4 || d != 346 {
		t.Errorf("Counts() = %d, %d, want 4, 346", p, d)
	}
}

func TestThrottle_ZeroIntervalPassesAll(t *testing.T) {
	t.Parallel()

	th := audio.NewThrottle(0)
	now := time.Unix(0, 0)
	for range 10 {
		if !th.Allow(now) {
			t.Fatal("Allow = false, want true with no interval")
		}
	}
}
