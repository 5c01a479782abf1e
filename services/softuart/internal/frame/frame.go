// services/softuart/internal/frame/frame.go
package frame

import (
	"math/bits"

	"softuart-go/errcode"
	"softuart-go/types"
)

// Format is the asynchronous frame layout. Data goes out LSB first and the
// line idles high.
type Format struct {
	DataBits uint8
	Parity   types.Parity
	StopBits uint8
}

// Format8N1 is 1 start, 8 data, no parity, 1 stop.
var Format8N1 = Format{DataBits: 8, Parity: types.ParityNone, StopBits: 1}

func (f Format) Validate() error {
	if f.DataBits < 5 || f.DataBits > 8 {
		return &errcode.E{C: errcode.InvalidFormat, Op: "frame", Msg: "data bits must be 5..8"}
	}
	if f.StopBits < 1 || f.StopBits > 2 {
		return &errcode.E{C: errcode.InvalidFormat, Op: "frame", Msg: "stop bits must be 1..2"}
	}
	switch f.Parity {
	case types.ParityNone, types.ParityEven, types.ParityOdd:
	default:
		return &errcode.E{C: errcode.InvalidFormat, Op: "frame", Msg: "unknown parity"}
	}
	return nil
}

// Bits is the frame length in bit periods.
func (f Format) Bits() int { return 1 + int(f.DataBits) + f.parityBits() + int(f.StopBits) }

func (f Format) parityBits() int {
	if f.Parity == types.ParityNone {
		return 0
	}
	return 1
}

// Frame is the per-byte transmit state. BitIndex -1 is the start bit,
// 0..DataBits-1 the data bits, then the optional parity bit, then stop bits.
type Frame struct {
	Byte     byte
	BitIndex int8
	Done     bool
}

// Begin returns a fresh frame positioned at the start bit.
func (f Format) Begin(b byte) Frame {
	return Frame{Byte: b & byte(1<<f.DataBits-1), BitIndex: -1}
}

// NextBit returns the level to drive for fr's current position and fr
// advanced by one bit. A done frame yields the idle level and is unchanged.
func (f Format) NextBit(fr Frame) (level bool, next Frame) {
	if fr.Done {
		return true, fr
	}
	i := int(fr.BitIndex)
	d := int(f.DataBits)
	switch {
	case i < 0:
		level = false
	case i < d:
		level = fr.Byte>>uint(i)&1 != 0
	case i == d && f.Parity != types.ParityNone:
		odd := bits.OnesCount8(fr.Byte)&1 == 1
		if f.Parity == types.ParityEven {
			level = odd
		} else {
			level = !odd
		}
	default:
		level = true
	}
	fr.BitIndex++
	if int(fr.BitIndex) >= d+f.parityBits()+int(f.StopBits) {
		fr.Done = true
	}
	return level, fr
}
