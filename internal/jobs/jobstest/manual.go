// Package jobstest provides a manually driven jobs.Timers for tests.
package jobstest

import (
	"sync"
	"time"

	"sessiontrack/internal/jobs"
)

type Manual struct {
	mu     sync.Mutex
	timers []*Timer
}

type Timer struct {
	owner    *Manual
	Name     string
	Interval time.Duration
	OneShot  bool
	fn       func()
	stopped  bool
}

func (t *Timer) Stop() {
	t.owner.mu.Lock()
	t.stopped = true
	t.owner.mu.Unlock()
}

func New() *Manual {
	return &Manual{}
}

var _ jobs.Timers = (*Manual)(nil)

func (m *Manual) Every(name string, interval time.Duration, fn func()) jobs.Handle {
	return m.add(name, interval, false, fn)
}

func (m *Manual) After(name string, delay time.Duration, fn func()) jobs.Handle {
	return m.add(name, delay, true, fn)
}

func (m *Manual) add(name string, d time.Duration, oneShot bool, fn func()) *Timer {
	t := &Timer{owner: m, Name: name, Interval: d, OneShot: oneShot, fn: fn}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

// Fire runs every live timer with the given name once and reports how many
// ran. One-shot timers are stopped after firing.
func (m *Manual) Fire(name string) int {
	m.mu.Lock()
	var due []*Timer
	for _, t := range m.timers {
		if t.Name == name && !t.stopped {
			due = append(due, t)
			if t.OneShot {
				t.stopped = true
			}
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Active counts live timers with the given name.
func (m *Manual) Active(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.Name == name && !t.stopped {
			n++
		}
	}
	return n
}

// Last returns the most recently scheduled timer with the given name.
func (m *Manual) Last(name string) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.timers) - 1; i >= 0; i-- {
		if m.timers[i].Name == name {
			return m.timers[i]
		}
	}
	return nil
}
