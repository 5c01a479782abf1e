// Package hrtimer provides a forward-scheduled repeating timer.
//
// A callback returns the interval until its next expiry. The next deadline
// is computed from the previous deadline, not from the time the callback
// ran, so scheduling latency does not accumulate across expiries.
package hrtimer

import (
	"sync"
	"sync/atomic"
	"time"
)

// LatencySamples is the size of the expiry latency ring.
const LatencySamples = 1024

// Timer runs one callback chain at a time on its own goroutine.
type Timer struct {
	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}

	fires   atomic.Uint64
	samples [LatencySamples]atomic.Int64
}

func New() *Timer { return &Timer{} }

// Start schedules cb to run after d. While cb returns a positive interval
// the timer is forwarded by that interval; a zero or negative return ends
// the chain. If a previous chain is still unwinding, Start waits for it.
func (t *Timer) Start(d time.Duration, cb func() time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		<-t.done
	}
	if d < 0 {
		d = 0
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	t.quit, t.done = quit, done
	go t.run(time.Now().Add(d), cb, quit, done)
}

// Cancel stops the chain. On return no callback is running and none will
// run until the next Start.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return
	}
	select {
	case <-t.done:
	default:
		close(t.quit)
		<-t.done
	}
	t.quit, t.done = nil, nil
}

// Active reports whether a callback chain is scheduled or running.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Timer) run(deadline time.Time, cb func() time.Duration, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	tm := time.NewTimer(time.Until(deadline))
	defer tm.Stop()
	for {
		select {
		case <-quit:
			return
		case <-tm.C:
		}
		// Cancel may have raced with expiry.
		select {
		case <-quit:
			return
		default:
		}
		t.record(time.Since(deadline))

		next := cb()
		if next <= 0 {
			return
		}
		deadline = deadline.Add(next)
		tm.Reset(time.Until(deadline))
	}
}

func (t *Timer) record(late time.Duration) {
	n := t.fires.Add(1) - 1
	t.samples[n%LatencySamples].Store(int64(late))
}

// Fires reports the number of callbacks run since creation.
func (t *Timer) Fires() uint64 { return t.fires.Load() }

// Latencies returns the most recent expiry latencies, oldest first.
func (t *Timer) Latencies() []time.Duration {
	n := t.fires.Load()
	count := n
	if count > LatencySamples {
		count = LatencySamples
	}
	out := make([]time.Duration, 0, count)
	for i := n - count; i < n; i++ {
		out = append(out, time.Duration(t.samples[i%LatencySamples].Load()))
	}
	return out
}
