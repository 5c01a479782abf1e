package timex

import (
	"math"
	"testing"
	"time"
)

func TestPeriodFromHzWithinHalfNanosecond(t *testing.T) {
	for _, hz := range []uint32{300, 1200, 4800, 9600, 19200, 57600, 115200} {
		d, ok := PeriodFromHz(hz)
		if !ok {
			t.Fatalf("PeriodFromHz(%d) not ok", hz)
		}
		exact := 1e9 / float64(hz)
		if diff := math.Abs(float64(d) - exact); diff > 0.5 {
			t.Fatalf("PeriodFromHz(%d) = %v, exact %.3fns (diff %.3f)", hz, d, exact, diff)
		}
	}
}

func TestPeriodFromHzRejectsZero(t *testing.T) {
	if d, ok := PeriodFromHz(0); ok || d != 0 {
		t.Fatalf("PeriodFromHz(0) = %v, %v", d, ok)
	}
}

func TestNowMsMonotonicEnough(t *testing.T) {
	a := NowMs()
	time.Sleep(2 * time.Millisecond)
	if b := NowMs(); b < a {
		t.Fatalf("NowMs went backwards: %d -> %d", a, b)
	}
}
