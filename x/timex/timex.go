package timex

import (
	"time"

	"softuart-go/x/mathx"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// PeriodFromHz returns the period of freqHz rounded to the nearest
// nanosecond. ok is false for freqHz == 0; no period is computed.
func PeriodFromHz(freqHz uint32) (d time.Duration, ok bool) {
	if freqHz == 0 {
		return 0, false
	}
	return time.Duration(mathx.RoundDiv(uint64(time.Second), uint64(freqHz))), true
}
