// services/softuart/internal/txcore/types.go
package txcore

import "time"

// ---- GPIO abstractions ----

// OutputPin is the single line the transmitter drives. Set is called from
// timer context and must not block.
type OutputPin interface {
	ConfigureOutput(initial bool) error
	Set(level bool)
	Number() int
}

// ---- Timer abstractions ----

// Timer runs a repeating callback chain. The callback returns the interval
// to the next expiry, or <= 0 to stop. Cancel must not return while a
// callback is running, and no callback may run after it returns.
type Timer interface {
	Start(after time.Duration, cb func() time.Duration)
	Cancel()
}

// ---- Engine state ----

type State uint32

const (
	StateIdle State = iota
	StateArmed
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateTransmitting:
		return "transmitting"
	default:
		return "idle"
	}
}
