package audio

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle lets at most one event through per interval and counts what it
// passes and drops. The caller supplies the time of each event so simulated
// clocks drive it deterministically.
type Throttle struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	passed  int
	dropped int
}

// NewThrottle returns a throttle admitting one event per interval. A
// non-positive interval admits every event.
func NewThrottle(interval time.Duration) *Throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Allow reports whether an event at now may pass.
func (t *Throttle) Allow(now time.Time) bool {
	ok := t.limiter.AllowN(now, 1)
	t.mu.Lock()
	if ok {
		t.passed++
	} else {
		t.dropped++
	}
	t.mu.Unlock()
	return ok
}

// Counts returns how many events passed and were dropped so far.
func (t *Throttle) Counts() (passed, dropped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.passed, t.dropped
}
