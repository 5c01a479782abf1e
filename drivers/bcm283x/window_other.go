//go:build !linux

package bcm283x

import "softuart-go/errcode"

// Window is unavailable off Linux; Open always fails.
type Window struct {
	*Bank
}

func Open(path string, offset int64) (*Window, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "bcm283x.Open", Msg: "gpio mapping requires linux"}
}

func (w *Window) Close() error { return errcode.Closed }
