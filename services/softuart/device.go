// services/softuart/device.go
package softuart

import (
	"context"
	"sync"
	"time"

	"softuart-go/drivers/bcm283x"
	"softuart-go/errcode"
	"softuart-go/services/softuart/internal/engine"
	"softuart-go/services/softuart/internal/msgbuf"
	"softuart-go/services/softuart/internal/txcore"
	"softuart-go/types"
	"softuart-go/x/hrtimer"
	"softuart-go/x/shmring"
)

// echoRingSize holds several full buffers of completed bytes.
const echoRingSize = 8192

// Resources are the collaborators a Device drives. Release, if set, is
// called once after the engine has stopped for good.
type Resources struct {
	Pin     txcore.OutputPin
	Timer   txcore.Timer
	Release func() error
}

// Device is one software transmitter: an engine, its message buffer and
// the resources behind them.
type Device struct {
	cfg     Config
	buf     *msgbuf.Buffer
	eng     *engine.Engine
	echo    *shmring.Ring
	pin     txcore.OutputPin
	timer   txcore.Timer
	release func() error

	wmu sync.Mutex // serialises writers and Cancel

	mu       sync.Mutex
	opens    int
	shutdown bool
}

// New builds a Device on res. The pin is driven to idle high before the
// engine exists. On failure Release is still called.
func New(cfg Config, res Resources) (*Device, error) {
	unwind := func(err error) (*Device, error) {
		if res.Release != nil {
			_ = res.Release()
		}
		return nil, err
	}
	if err := cfg.normalise(); err != nil {
		return unwind(err)
	}
	if res.Pin == nil || res.Timer == nil {
		return unwind(&errcode.E{C: errcode.InvalidParams, Op: "softuart.New", Msg: "pin and timer are required"})
	}
	if err := res.Pin.ConfigureOutput(true); err != nil {
		return unwind(err)
	}

	d := &Device{
		cfg:     cfg,
		buf:     msgbuf.New(cfg.Capacity),
		echo:    shmring.New(echoRingSize),
		pin:     res.Pin,
		timer:   res.Timer,
		release: res.Release,
	}
	eng, err := engine.New(engine.Config{
		Pin:    res.Pin,
		Timer:  res.Timer,
		Buffer: d.buf,
		Baud:   cfg.Baud,
		Format: cfg.frameFormat(),
		Echo:   d.echo,
	})
	if err != nil {
		return unwind(err)
	}
	d.eng = eng
	cfg.logf(1, "softuart: pin %d at %d baud, bit %v, buffer %d", res.Pin.Number(), cfg.Baud, eng.BitPeriod(), cfg.Capacity)
	return d, nil
}

// NewBCM maps the GPIO block at cfg.DevicePath and builds a Device on
// cfg.Pin with a hrtimer. Acquired resources are released in reverse
// order if any step fails.
func NewBCM(cfg Config) (*Device, error) {
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	w, err := bcm283x.Open(cfg.DevicePath, cfg.MapOffset)
	if err != nil {
		cfg.logf(0, "softuart: map %s: %v", cfg.DevicePath, err)
		return nil, err
	}
	pin, err := bcm283x.NewPin(w.Bank, cfg.Pin)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return New(cfg, Resources{Pin: pin, Timer: hrtimer.New(), Release: w.Close})
}

// NewMemory builds a Device on an in-memory register bank: the full
// engine runs, but no hardware line moves.
func NewMemory(cfg Config) (*Device, *bcm283x.Bank, error) {
	if err := cfg.normalise(); err != nil {
		return nil, nil, err
	}
	bank := bcm283x.NewMemoryBank()
	pin, err := bcm283x.NewPin(bank, cfg.Pin)
	if err != nil {
		return nil, nil, err
	}
	d, err := New(cfg, Resources{Pin: pin, Timer: hrtimer.New()})
	if err != nil {
		return nil, nil, err
	}
	return d, bank, nil
}

// Open returns a handle for reading and writing. It fails after Shutdown.
func (d *Device) Open() (*File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return nil, &errcode.E{C: errcode.Closed, Op: "open"}
	}
	d.opens++
	return &File{dev: d}, nil
}

// Opens is the number of open handles.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Device) closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown
}

// Shutdown stops the engine, restores the line to idle high and releases
// the register mapping, in that order. Later calls return Closed.
func (d *Device) Shutdown() error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return errcode.Closed
	}
	d.shutdown = true
	d.mu.Unlock()

	d.wmu.Lock()
	d.eng.Cancel()
	d.wmu.Unlock()
	d.cfg.logf(1, "softuart: pin %d shut down after %d frames", d.pin.Number(), d.eng.Frames())
	if d.release != nil {
		return d.release()
	}
	return nil
}

// write formats p, stores it and arms the engine. Callers hold wmu.
func (d *Device) write(p []byte) (int, error) {
	if d.closed() {
		return 0, &errcode.E{C: errcode.Closed, Op: "write"}
	}
	if d.eng.State() != txcore.StateIdle {
		return 0, &errcode.E{C: errcode.Busy, Op: "write", Msg: "transmission in progress"}
	}
	msg := formatMessage(p)
	if len(msg) > d.buf.Cap() {
		return 0, &errcode.E{C: errcode.Oversized, Op: "write"}
	}
	if err := d.buf.Enqueue(msg); err != nil {
		return 0, err
	}
	d.eng.Arm()
	d.cfg.logf(2, "softuart: queued %d bytes", len(msg))
	return len(p), nil
}

// Write queues p for transmission. It fails with Busy while a previous
// message is still going out.
func (d *Device) Write(p []byte) (int, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return d.write(p)
}

// WriteContext waits for the engine to go idle, then writes p.
func (d *Device) WriteContext(ctx context.Context, p []byte) (int, error) {
	for {
		if err := d.eng.WaitIdle(ctx); err != nil {
			return 0, &errcode.E{C: errcode.Timeout, Op: "write", Err: err}
		}
		d.wmu.Lock()
		n, err := d.write(p)
		d.wmu.Unlock()
		if errcode.Of(err) != errcode.Busy {
			return n, err
		}
	}
}

// Cancel aborts the current transmission and drops unsent bytes.
func (d *Device) Cancel() {
	d.wmu.Lock()
	d.eng.Cancel()
	d.wmu.Unlock()
}

// WaitIdle blocks until the current transmission has finished.
func (d *Device) WaitIdle(ctx context.Context) error { return d.eng.WaitIdle(ctx) }

func (d *Device) SetBaud(baud uint32) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if err := d.eng.SetBaud(baud); err != nil {
		return err
	}
	d.cfg.Baud = baud
	return nil
}

func (d *Device) SetFormat(f types.SerialSetFormat) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if err := d.eng.SetFormat(toFrameFormat(f)); err != nil {
		return err
	}
	d.cfg.Format = f
	return nil
}

func (d *Device) BitPeriod() time.Duration { return d.eng.BitPeriod() }

func (d *Device) State() types.TxState {
	return types.TxState{
		State:   d.eng.State().String(),
		Pending: d.buf.Pending(),
		Frames:  d.eng.Frames(),
	}
}

func (d *Device) Info() types.SerialInfo {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return types.SerialInfo{
		Pin:      d.pin.Number(),
		Baud:     d.cfg.Baud,
		Format:   fromFrameFormat(d.eng.Format()),
		Capacity: d.buf.Cap(),
		BitNs:    int64(d.eng.BitPeriod()),
	}
}

// Echo is the ring of bytes whose stop bit has been driven.
func (d *Device) Echo() *shmring.Ring { return d.echo }

// Timer is the timer driving the engine.
func (d *Device) Timer() txcore.Timer { return d.timer }
