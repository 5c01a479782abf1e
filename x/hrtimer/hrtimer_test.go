package hrtimer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerRepeatsUntilZero(t *testing.T) {
	tm := New()
	var n atomic.Int32
	done := make(chan struct{})
	tm.Start(time.Millisecond, func() time.Duration {
		if n.Add(1) == 5 {
			close(done)
			return 0
		}
		return time.Millisecond
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout; fired %d times", n.Load())
	}
	// Chain has ended; it must not fire again.
	time.Sleep(10 * time.Millisecond)
	if got := n.Load(); got != 5 {
		t.Fatalf("fired %d times, want 5", got)
	}
	if tm.Fires() != 5 {
		t.Fatalf("Fires() = %d, want 5", tm.Fires())
	}
	if got := len(tm.Latencies()); got != 5 {
		t.Fatalf("Latencies() len = %d, want 5", got)
	}
}

func TestTimerForwardsFromDeadline(t *testing.T) {
	tm := New()
	const period = 2 * time.Millisecond
	const fires = 20
	var n atomic.Int32
	done := make(chan struct{})
	start := time.Now()
	tm.Start(period, func() time.Duration {
		if n.Add(1) == fires {
			close(done)
			return 0
		}
		// Simulated work must not push later deadlines out.
		time.Sleep(period / 4)
		return period
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	// Without forwarding, elapsed would be at least fires*(period+period/4).
	elapsed := time.Since(start)
	if min := fires * period; elapsed < min {
		t.Fatalf("elapsed %v shorter than %v", elapsed, min)
	}
}

func TestCancelWaitsForRunningCallback(t *testing.T) {
	tm := New()
	entered := make(chan struct{})
	var finished atomic.Bool
	tm.Start(0, func() time.Duration {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return time.Millisecond
	})
	<-entered
	tm.Cancel()
	if !finished.Load() {
		t.Fatal("Cancel returned while callback was still running")
	}
	if tm.Active() {
		t.Fatal("timer still active after Cancel")
	}
	fired := tm.Fires()
	time.Sleep(10 * time.Millisecond)
	if tm.Fires() != fired {
		t.Fatal("callback fired after Cancel")
	}
}

func TestCancelBeforeExpiry(t *testing.T) {
	tm := New()
	var fired atomic.Bool
	tm.Start(50*time.Millisecond, func() time.Duration {
		fired.Store(true)
		return 0
	})
	tm.Cancel()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("callback fired after Cancel")
	}
	tm.Cancel() // idempotent
}

func TestRestartAfterChainEnds(t *testing.T) {
	tm := New()
	ran := make(chan int, 2)
	tm.Start(0, func() time.Duration { ran <- 1; return 0 })
	<-ran
	tm.Start(0, func() time.Duration { ran <- 2; return 0 })
	select {
	case v := <-ran:
		if v != 2 {
			t.Fatalf("got %d, want 2", v)
		}
	case <-time.After(time.Second):
		t.Fatal("second chain did not run")
	}
}

func TestManualRecordsIntervals(t *testing.T) {
	var m Manual
	left := 3
	m.Start(5*time.Millisecond, func() time.Duration {
		left--
		if left == 0 {
			return 0
		}
		return time.Millisecond
	})
	if n := m.RunUntilIdle(10); n != 3 {
		t.Fatalf("RunUntilIdle = %d, want 3", n)
	}
	if m.Armed() {
		t.Fatal("still armed")
	}
	want := []time.Duration{5 * time.Millisecond, time.Millisecond, time.Millisecond}
	got := m.Intervals()
	if len(got) != len(want) {
		t.Fatalf("Intervals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Intervals = %v, want %v", got, want)
		}
	}
	if m.Now() != 7*time.Millisecond {
		t.Fatalf("Now = %v, want 7ms", m.Now())
	}
}
