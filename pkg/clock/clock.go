// Package clock abstracts wall-clock time and periodic scheduling so that
// time-dependent engines (debounce windows, watchdogs, scroll ticks) can be
// driven by a simulated clock in tests.
//
// [Real] is backed by the time package. [Manual] only moves when the test
// calls [Manual.Advance], firing every scheduled callback synchronously on
// the caller's goroutine.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time and schedules periodic callbacks.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Every schedules fn to run once per interval until the returned
	// [Cancel] is called. Calling Cancel more than once is safe.
	Every(interval time.Duration, fn func()) Cancel
}

// Cancel stops a scheduled callback.
type Cancel func()

// Real is the production [Clock].
type Real struct{}

// Compile-time interface assertion.
var _ Clock = Real{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Every runs fn on a dedicated goroutine driven by a [time.Ticker].
// fn never runs concurrently with itself.
func (Real) Every(interval time.Duration, fn func()) Cancel {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
