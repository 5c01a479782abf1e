// services/softuart/internal/engine/engine.go
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"softuart-go/errcode"
	"softuart-go/services/softuart/internal/frame"
	"softuart-go/services/softuart/internal/msgbuf"
	"softuart-go/services/softuart/internal/txcore"
	"softuart-go/x/shmring"
	"softuart-go/x/timex"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Pin    txcore.OutputPin
	Timer  txcore.Timer
	Buffer *msgbuf.Buffer
	Baud   uint32
	Format frame.Format
	// Echo, when set, receives every byte whose stop bit has completed.
	Echo *shmring.Ring
}

// Engine advances one bit of the current frame per timer expiry.
//
// Fields below the callback marker are owned by timer context while the
// engine is not idle.
type Engine struct {
	pin   txcore.OutputPin
	timer txcore.Timer
	buf   *msgbuf.Buffer
	echo  *shmring.Ring

	state  atomic.Uint32 // txcore.State
	period atomic.Int64  // bit period, ns
	frames atomic.Uint64

	// idle is closed when the current run ends. armMu orders Arm against
	// WaitIdle; the callback never takes it.
	armMu sync.Mutex
	idle  atomic.Pointer[chan struct{}]

	// callback
	format frame.Format
	cur    frame.Frame
}

func New(cfg Config) (*Engine, error) {
	if cfg.Pin == nil || cfg.Timer == nil || cfg.Buffer == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "engine.New", Msg: "pin, timer and buffer are required"}
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		pin:    cfg.Pin,
		timer:  cfg.Timer,
		buf:    cfg.Buffer,
		echo:   cfg.Echo,
		format: cfg.Format,
	}
	if err := e.setPeriod(cfg.Baud); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) setPeriod(baud uint32) error {
	d, ok := timex.PeriodFromHz(baud)
	if !ok {
		return &errcode.E{C: errcode.InvalidBaud, Op: "engine", Msg: "baud must be > 0"}
	}
	e.period.Store(int64(d))
	return nil
}

// SetBaud changes the bit rate. It is refused unless the engine is idle.
func (e *Engine) SetBaud(baud uint32) error {
	if e.State() != txcore.StateIdle {
		return &errcode.E{C: errcode.Busy, Op: "set_baud"}
	}
	return e.setPeriod(baud)
}

// SetFormat changes the frame layout. It is refused unless the engine is idle.
func (e *Engine) SetFormat(f frame.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if e.State() != txcore.StateIdle {
		return &errcode.E{C: errcode.Busy, Op: "set_format"}
	}
	e.format = f
	return nil
}

func (e *Engine) Format() frame.Format { return e.format }

func (e *Engine) BitPeriod() time.Duration { return time.Duration(e.period.Load()) }

func (e *Engine) State() txcore.State { return txcore.State(e.state.Load()) }

// Frames is the number of frames whose stop bit has completed.
func (e *Engine) Frames() uint64 { return e.frames.Load() }

// Arm schedules the first expiry one bit period from now. It only acts
// from idle with bytes queued, and reports whether it did.
func (e *Engine) Arm() bool {
	if e.buf.IsEmpty() {
		return false
	}
	e.armMu.Lock()
	if !e.state.CompareAndSwap(uint32(txcore.StateIdle), uint32(txcore.StateArmed)) {
		e.armMu.Unlock()
		return false
	}
	c := make(chan struct{})
	e.idle.Store(&c)
	e.armMu.Unlock()
	e.timer.Start(e.BitPeriod(), e.tick)
	return true
}

// Cancel stops transmission. On return no expiry will run, queued bytes
// are dropped, the line is back at idle high and the state is idle.
func (e *Engine) Cancel() {
	e.timer.Cancel()
	e.buf.Drop()
	e.cur = frame.Frame{Done: true}
	e.pin.Set(true)
	e.goIdle()
}

// WaitIdle blocks until the engine is idle or ctx is done.
// Any number of callers may wait at once.
func (e *Engine) WaitIdle(ctx context.Context) error {
	e.armMu.Lock()
	p := e.idle.Load()
	e.armMu.Unlock()
	if p == nil || e.State() == txcore.StateIdle {
		return nil
	}
	select {
	case <-*p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goIdle closes the channel of the run that is ending. A later Arm may
// already have installed its own, which is left alone.
func (e *Engine) goIdle() {
	p := e.idle.Load()
	e.state.Store(uint32(txcore.StateIdle))
	if p != nil {
		e.idle.CompareAndSwap(p, nil)
		close(*p)
	}
}

// tick is the timer callback. It must not block or allocate.
func (e *Engine) tick() time.Duration {
	switch txcore.State(e.state.Load()) {
	case txcore.StateArmed:
		if !e.begin() {
			e.goIdle()
			return 0
		}
		e.state.Store(uint32(txcore.StateTransmitting))
	case txcore.StateTransmitting:
		if e.cur.Done {
			e.complete()
			// Next start bit follows the stop bit with no gap.
			if !e.begin() {
				e.goIdle()
				return 0
			}
		}
	default:
		return 0
	}
	var level bool
	level, e.cur = e.format.NextBit(e.cur)
	e.pin.Set(level)
	return e.BitPeriod()
}

func (e *Engine) begin() bool {
	b, ok := e.buf.Next()
	if !ok {
		return false
	}
	e.cur = e.format.Begin(b)
	return true
}

func (e *Engine) complete() {
	e.frames.Add(1)
	if e.echo != nil {
		e.echo.Put(e.cur.Byte)
	}
}
