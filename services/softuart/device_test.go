package softuart

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"softuart-go/drivers/bcm283x"
	"softuart-go/errcode"
	"softuart-go/services/softuart/internal/txcore"
	"softuart-go/x/hrtimer"
)

// ---- fakes ----

type eventLog struct {
	mu  sync.Mutex
	evs []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.evs = append(l.evs, s)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.evs...)
}

type logPin struct{ log *eventLog }

func (p logPin) ConfigureOutput(initial bool) error {
	p.log.add("configure")
	p.Set(initial)
	return nil
}
func (p logPin) Number() int { return 4 }
func (p logPin) Set(high bool) {
	if high {
		p.log.add("high")
	} else {
		p.log.add("low")
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("efault") }

func newManualDevice(t *testing.T, capacity int) (*Device, *hrtimer.Manual, *bcm283x.Bank) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	bank := bcm283x.NewMemoryBank()
	pin, err := bcm283x.NewPin(bank, cfg.Pin)
	if err != nil {
		t.Fatal(err)
	}
	tm := &hrtimer.Manual{}
	d, err := New(cfg, Resources{Pin: pin, Timer: tm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, tm, bank
}

func openFile(t *testing.T, d *Device) *File {
	t.Helper()
	f, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return f
}

// ---- tests ----

func TestWriteReadRoundTrip(t *testing.T) {
	d, tm, _ := newManualDevice(t, 256)
	f := openFile(t, d)

	n, err := f.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if f.Buffered() != len("abc(3 letters)") {
		t.Fatalf("Buffered = %d", f.Buffered())
	}

	buf := make([]byte, 64)
	n, err = f.Read(buf)
	if err != nil || string(buf[:n]) != "abc(3 letters)" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if n, _ = f.Read(buf); n != 0 {
		t.Fatalf("second Read = %d, want 0", n)
	}

	// Reading back does not disturb the transmission.
	tm.RunUntilIdle(1000)
	if d.State().Frames != uint64(len("abc(3 letters)")) {
		t.Fatalf("frames = %d", d.State().Frames)
	}
}

func TestLineIdlesHighAfterTransmission(t *testing.T) {
	d, tm, bank := newManualDevice(t, 64)
	f := openFile(t, d)
	m, _ := bcm283x.MapPin(d.cfg.Pin)
	if bank.Function(m.FSELIndex, m.FSELOffset) != bcm283x.FuncOutput {
		t.Fatal("pin not configured as output")
	}
	if !bank.Level(m.Bank, m.Bit) {
		t.Fatal("line not idle high after New")
	}
	_, _ = f.Write([]byte{0})
	tm.Fire() // start bit
	if bank.Level(m.Bank, m.Bit) {
		t.Fatal("start bit not low")
	}
	tm.RunUntilIdle(1000)
	if !bank.Level(m.Bank, m.Bit) {
		t.Fatal("line not high after stop bit")
	}
}

func TestOversizedWriteLeavesBufferUnchanged(t *testing.T) {
	d, tm, _ := newManualDevice(t, MinCapacity)
	f := openFile(t, d)

	if _, err := f.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	tm.RunUntilIdle(1000)

	_, err := f.Write([]byte("0123456789"))
	if !errors.Is(err, errcode.Oversized) {
		t.Fatalf("err = %v, want oversized", err)
	}
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "ab(2 letters)" {
		t.Fatalf("buffer = %q", buf[:n])
	}
	if tm.Armed() {
		t.Fatal("oversized write armed the engine")
	}
}

func TestWriteWhileTransmittingIsBusy(t *testing.T) {
	d, tm, _ := newManualDevice(t, 64)
	f := openFile(t, d)

	_, _ = f.Write([]byte("first"))
	tm.Fire()
	if _, err := f.Write([]byte("second")); !errors.Is(err, errcode.Busy) {
		t.Fatalf("err = %v, want busy", err)
	}
	tm.RunUntilIdle(1000)
	if d.State().State != txcore.StateIdle.String() {
		t.Fatalf("state = %s", d.State().State)
	}
	if _, err := f.Write([]byte("second")); err != nil {
		t.Fatalf("write after idle: %v", err)
	}
}

func TestWriteContextWaitsForIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Baud = 200000
	d, _, err := NewMemory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Shutdown()
	f := openFile(t, d)

	if _, err := f.Write([]byte("one")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := f.WriteContext(ctx, []byte("two"))
	if err != nil || n != 3 {
		t.Fatalf("WriteContext = %d, %v", n, err)
	}
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatal(err)
	}
	want := uint64(2 * len("one(3 letters)"))
	if got := d.State().Frames; got != want {
		t.Fatalf("frames = %d, want %d", got, want)
	}
}

func TestWriteContextTimeout(t *testing.T) {
	d, _, _ := newManualDevice(t, 64)
	f := openFile(t, d)
	_, _ = f.Write([]byte("stuck")) // manual timer never fires

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.WriteContext(ctx, []byte("x")); !errors.Is(err, errcode.Timeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestWriteToFailureKeepsMessage(t *testing.T) {
	d, _, _ := newManualDevice(t, 64)
	f := openFile(t, d)
	_, _ = f.Write([]byte("abc"))

	if _, err := f.WriteTo(failWriter{}); !errors.Is(err, errcode.BadAddress) {
		t.Fatalf("err = %v, want bad_address", err)
	}
	var out bytes.Buffer
	n, err := f.WriteTo(&out)
	if err != nil || n != int64(len("abc(3 letters)")) || out.String() != "abc(3 letters)" {
		t.Fatalf("WriteTo = %d %q %v", n, out.String(), err)
	}
	if n, _ := f.WriteTo(&out); n != 0 {
		t.Fatalf("second WriteTo = %d", n)
	}
}

func TestFileClose(t *testing.T) {
	d, _, _ := newManualDevice(t, 64)
	f := openFile(t, d)
	g := openFile(t, d)
	if d.Opens() != 2 {
		t.Fatalf("opens = %d", d.Opens())
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); !errors.Is(err, errcode.Closed) {
		t.Fatalf("double close = %v", err)
	}
	if _, err := f.Write([]byte("x")); !errors.Is(err, errcode.Closed) {
		t.Fatalf("write on closed file = %v", err)
	}
	if d.Opens() != 1 {
		t.Fatalf("opens = %d", d.Opens())
	}
	_ = g.Close()
}

func TestShutdownOrder(t *testing.T) {
	log := &eventLog{}
	tm := &hrtimer.Manual{}
	d, err := New(DefaultConfig(), Resources{
		Pin:   logPin{log},
		Timer: tm,
		Release: func() error {
			log.add("release")
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := openFile(t, d)
	_, _ = f.Write([]byte("bye"))
	tm.Fire()
	tm.Fire()

	if err := d.Shutdown(); err != nil {
		t.Fatal(err)
	}
	evs := log.all()
	if evs[0] != "configure" {
		t.Fatalf("first event %q", evs[0])
	}
	tail := strings.Join(evs[len(evs)-2:], ",")
	if tail != "high,release" {
		t.Fatalf("teardown = %s (events %v)", tail, evs)
	}
	if tm.Armed() || tm.Fire() {
		t.Fatal("timer still armed after Shutdown")
	}
	if err := d.Shutdown(); !errors.Is(err, errcode.Closed) {
		t.Fatalf("second Shutdown = %v", err)
	}
	if _, err := d.Open(); !errors.Is(err, errcode.Closed) {
		t.Fatalf("Open after Shutdown = %v", err)
	}
	if _, err := f.Write([]byte("x")); !errors.Is(err, errcode.Closed) {
		t.Fatalf("Write after Shutdown = %v", err)
	}
}

func TestNewReleasesOnFailure(t *testing.T) {
	released := 0
	cfg := DefaultConfig()
	cfg.Baud = 0
	_, err := New(cfg, Resources{Pin: logPin{&eventLog{}}, Timer: &hrtimer.Manual{}, Release: func() error {
		released++
		return nil
	}})
	if !errors.Is(err, errcode.InvalidBaud) {
		t.Fatalf("err = %v, want invalid_baud", err)
	}
	if released != 1 {
		t.Fatalf("released %d times", released)
	}
	if _, err := New(DefaultConfig(), Resources{}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("missing resources err = %v", err)
	}
}

func TestSetBaudAndInfo(t *testing.T) {
	d, tm, _ := newManualDevice(t, 64)
	if err := d.SetBaud(9600); err != nil {
		t.Fatal(err)
	}
	info := d.Info()
	if info.Baud != 9600 || info.BitNs != 104167 || info.Pin != 4 || info.Capacity != 64 {
		t.Fatalf("info = %+v", info)
	}
	f := openFile(t, d)
	_, _ = f.Write([]byte("z"))
	if err := d.SetBaud(1200); !errors.Is(err, errcode.Busy) {
		t.Fatalf("SetBaud while armed = %v", err)
	}
	tm.RunUntilIdle(1000)
	fmt7E2 := info.Format
	fmt7E2.DataBits, fmt7E2.StopBits = 7, 2
	if err := d.SetFormat(fmt7E2); err != nil {
		t.Fatal(err)
	}
	if d.Info().Format.DataBits != 7 {
		t.Fatalf("format = %+v", d.Info().Format)
	}
}

func TestCancelDropsPending(t *testing.T) {
	d, tm, _ := newManualDevice(t, 64)
	f := openFile(t, d)
	_, _ = f.Write([]byte("a long message"))
	for i := 0; i < 5; i++ {
		tm.Fire()
	}
	d.Cancel()
	st := d.State()
	if st.State != "idle" || st.Pending != 0 {
		t.Fatalf("state after cancel = %+v", st)
	}
	if tm.Fire() {
		t.Fatal("expiry after Cancel")
	}
	// The readback copy survives a cancel.
	if f.Buffered() == 0 {
		t.Fatal("readback cleared by Cancel")
	}
}
