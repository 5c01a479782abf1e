// services/softuart/file.go
package softuart

import (
	"context"
	"io"
	"sync/atomic"

	"tinygo.org/x/drivers"

	"softuart-go/errcode"
	"softuart-go/x/conv"
)

var _ drivers.UART = (*File)(nil)

// File is an open handle on a Device. Every handle shares the device's
// single message buffer.
type File struct {
	dev    *Device
	closed atomic.Bool
}

// formatMessage renders p as "<p>(<len> letters)".
func formatMessage(p []byte) []byte {
	out := make([]byte, 0, len(p)+len("( letters)")+20)
	out = append(out, p...)
	out = append(out, '(')
	out = conv.AppendUint(out, uint64(len(p)))
	out = append(out, " letters)"...)
	return out
}

func (f *File) check(op string) error {
	if f.closed.Load() {
		return &errcode.E{C: errcode.Closed, Op: op}
	}
	return nil
}

// Write queues p, decorated with its length, for transmission and returns
// len(p). While an earlier message is still going out it fails with Busy.
func (f *File) Write(p []byte) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	return f.dev.Write(p)
}

// WriteContext is Write, but it waits for the line to go idle first.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	if err := f.check("write"); err != nil {
		return 0, err
	}
	return f.dev.WriteContext(ctx, p)
}

// Read consumes the stored message into p. It returns 0 and a nil error
// once the message has been read.
func (f *File) Read(p []byte) (int, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	return f.dev.buf.Consume(p), nil
}

// WriteTo copies the stored message to w and clears it. If w fails, the
// message stays in place for a later attempt.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	if err := f.check("read"); err != nil {
		return 0, err
	}
	data, gen := f.dev.buf.Peek()
	if len(data) == 0 {
		return 0, nil
	}
	n, err := w.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return int64(n), &errcode.E{C: errcode.BadAddress, Op: "read", Err: err}
	}
	f.dev.buf.Commit(gen)
	return int64(n), nil
}

// Buffered is the length of the unread message.
func (f *File) Buffered() int { return f.dev.buf.Len() }

// Close releases the handle. A second Close returns Closed.
func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return errcode.Closed
	}
	f.dev.mu.Lock()
	f.dev.opens--
	f.dev.mu.Unlock()
	return nil
}
