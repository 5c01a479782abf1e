package mathx

import "testing"

func TestClamp(t *testing.T) {
	for _, c := range []struct{ v, lo, hi, want int }{
		{5, 16, 4096, 16},
		{9000, 16, 4096, 4096},
		{256, 16, 4096, 256},
		{3, 10, 1, 3}, // swapped bounds
	} {
		if got := Clamp(c.v, c.lo, c.hi); got != c.want {
			t.Fatalf("Clamp(%d,%d,%d) = %d, want %d", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestRoundDiv(t *testing.T) {
	if got := RoundDiv[uint64](1_000_000_000, 4800); got != 208333 {
		t.Fatalf("RoundDiv(1e9, 4800) = %d", got)
	}
	if got := RoundDiv[uint64](1_000_000_000, 115200); got != 8681 {
		t.Fatalf("RoundDiv(1e9, 115200) = %d", got)
	}
	if got := RoundDiv[uint32](7, 0); got != 0 {
		t.Fatalf("RoundDiv(7, 0) = %d", got)
	}
}
