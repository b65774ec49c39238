package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a simulated [Clock]. Time only moves forward through [Manual.Advance]
// or [Manual.Set]; scheduled callbacks fire synchronously, in due-time order,
// on the goroutine that advances the clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id       int
	interval time.Duration
	next     time.Time
	fn       func()
}

// Compile-time interface assertion.
var _ Clock = (*Manual)(nil)

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[int]*manualTimer)}
}

// Now returns the simulated time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every registers fn to fire every interval of simulated time.
func (m *Manual) Every(interval time.Duration, fn func()) Cancel {
	if interval <= 0 {
		interval = time.Millisecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.timers[id] = &manualTimer{id: id, interval: interval, next: m.now.Add(interval), fn: fn}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.timers, id)
	}
}

// Scheduled returns the number of active periodic callbacks.
func (m *Manual) Scheduled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing every callback that falls due.
// The clock reads each callback's due time while the callback runs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.advanceTo(target)
}

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t time.Time) {
	m.advanceTo(t)
}

func (m *Manual) advanceTo(target time.Time) {
	for {
		m.mu.Lock()
		due := m.dueLocked(target)
		if due == nil {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		m.mu.Unlock()

		fn()
	}
}

// dueLocked returns the earliest timer due at or before target. Must be
// called with m.mu held.
func (m *Manual) dueLocked(target time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}
