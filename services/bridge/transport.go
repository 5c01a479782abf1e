// bridge/transport.go
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"softuart-go/bus"
	"softuart-go/errcode"
	"softuart-go/types"
)

// Link carries whole frames. Each WriteContext call is one message.
type Link interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type transportFactory func(TransportConfig, *bus.Connection) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig, conn *bus.Connection) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg, conn)
	}
	switch cfg.Type {
	case "softuart", "":
		return &softuartTransport{conn: conn}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// -----------------------------------------------------------------------------
// softuart transport: frames go out through the softuart service's write
// control, one frame per message.
// -----------------------------------------------------------------------------

// readyWait bounds how long Open looks for a retained softuart/info.
const readyWait = 200 * time.Millisecond

type softuartTransport struct {
	conn *bus.Connection
}

func (u *softuartTransport) String() string { return "softuart" }

// Open succeeds once the softuart service has a configured device.
func (u *softuartTransport) Open(ctx context.Context) (Link, error) {
	sub := u.conn.Subscribe(bus.T("softuart", "info"))
	defer u.conn.Unsubscribe(sub)
	t := time.NewTimer(readyWait)
	defer t.Stop()
	select {
	case m := <-sub.Channel():
		if m.Payload == nil {
			return nil, &errcode.E{C: errcode.Closed, Op: "bridge", Msg: "softuart device closed"}
		}
		return &busLink{conn: u.conn}, nil
	case <-t.C:
		return nil, &errcode.E{C: errcode.Closed, Op: "bridge", Msg: "softuart not configured"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type busLink struct {
	conn *bus.Connection
}

func (l *busLink) WriteContext(ctx context.Context, p []byte) (int, error) {
	req := l.conn.NewMessage(bus.T("softuart", "control", "write"), types.SerialWrite{Data: p, Wait: true}, false)
	reply, err := l.conn.RequestWait(ctx, req)
	if err != nil {
		return 0, err
	}
	switch r := reply.Payload.(type) {
	case types.SerialWriteAck:
		return r.N, nil
	case types.ErrorReply:
		return 0, &errcode.E{C: errcode.Code(r.Error), Op: "bridge.write"}
	}
	return 0, &errcode.E{C: errcode.Error, Op: "bridge.write", Msg: fmt.Sprintf("unexpected reply %T", reply.Payload)}
}

func (l *busLink) Close() error { return nil }

// -----------------------------------------------------------------------------
// UART transport: frames are written straight to a drivers.UART, such as an
// open softuart file or any TinyGo UART.
// -----------------------------------------------------------------------------

// RegisterUART makes u available as transport type name.
func RegisterUART(name string, u drivers.UART) {
	RegisterTransport(name, func(TransportConfig, *bus.Connection) (Transport, error) {
		return NewUARTTransport(name, u), nil
	})
}

// NewUARTTransport returns a Transport whose link writes to u.
func NewUARTTransport(name string, u drivers.UART) Transport {
	return &uartTransport{name: name, u: u}
}

type uartTransport struct {
	name string
	u    drivers.UART
}

func (t *uartTransport) String() string { return t.name }

func (t *uartTransport) Open(ctx context.Context) (Link, error) {
	if t.u == nil {
		return nil, &errcode.E{C: errcode.Closed, Op: "bridge", Msg: "no uart"}
	}
	return &uartLink{u: t.u}, nil
}

// contextWriter is satisfied by UARTs that can wait for the line.
type contextWriter interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
}

type uartLink struct {
	u drivers.UART
}

func (l *uartLink) WriteContext(ctx context.Context, p []byte) (int, error) {
	if cw, ok := l.u.(contextWriter); ok {
		return cw.WriteContext(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := l.u.Write(p)
	if err == nil && n < len(p) {
		err = &errcode.E{C: errcode.Error, Op: "bridge.write", Msg: fmt.Sprintf("short write %d/%d", n, len(p))}
	}
	return n, err
}

// Close leaves the UART open; its owner closes it.
func (l *uartLink) Close() error { return nil }
