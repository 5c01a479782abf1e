package hrtimer

import (
	"sync"
	"time"
)

// Manual is a Timer stand-in driven by explicit Fire calls. It keeps a
// virtual clock advanced by the scheduled intervals, for host tests.
type Manual struct {
	mu      sync.Mutex
	cb      func() time.Duration
	armed   bool
	next    time.Duration // interval to the pending expiry
	now     time.Duration // virtual time of the last expiry
	starts  int
	history []time.Duration
}

func (m *Manual) Start(d time.Duration, cb func() time.Duration) {
	m.mu.Lock()
	m.cb, m.armed, m.next = cb, true, d
	m.starts++
	m.history = append(m.history, d)
	m.mu.Unlock()
}

func (m *Manual) Cancel() {
	m.mu.Lock()
	m.armed, m.cb = false, nil
	m.mu.Unlock()
}

// Armed reports whether an expiry is pending.
func (m *Manual) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Fire runs the pending callback once. It returns false if nothing was armed.
func (m *Manual) Fire() bool {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return false
	}
	cb := m.cb
	m.now += m.next
	m.mu.Unlock()

	next := cb()

	m.mu.Lock()
	if m.cb != nil && m.armed {
		if next > 0 {
			m.next = next
			m.history = append(m.history, next)
		} else {
			m.armed, m.cb = false, nil
		}
	}
	m.mu.Unlock()
	return true
}

// RunUntilIdle fires until the chain ends or max expiries have run.
// It returns the number of expiries.
func (m *Manual) RunUntilIdle(max int) int {
	n := 0
	for n < max && m.Fire() {
		n++
	}
	return n
}

// Now is the virtual time of the most recent expiry.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Starts reports how many times Start was called.
func (m *Manual) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Intervals returns every scheduled interval: the Start delay followed by
// each positive callback return.
func (m *Manual) Intervals() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.history...)
}
