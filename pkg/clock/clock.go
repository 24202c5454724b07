package clock

import (
	"sync"
	"time"
)

// System reads the wall clock. It is the only place in the codebase that
// touches time.Now directly.
type System struct{}

func NewSystem() *System {
	return &System{}
}

func (System) Now() time.Time {
	return time.Now()
}

// Manual is a hand-advanced clock for deterministic tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
