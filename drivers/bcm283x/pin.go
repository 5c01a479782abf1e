package bcm283x

import "softuart-go/errcode"

// Pin is one GPIO line of a Bank. It holds no state beyond its mapping.
type Pin struct {
	bank *Bank
	m    PinMap
}

func NewPin(b *Bank, n int) (*Pin, error) {
	m, ok := MapPin(n)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "bcm283x.NewPin", Msg: "no such gpio"}
	}
	return &Pin{bank: b, m: m}, nil
}

// ConfigureOutput latches the initial level, then switches the function
// select field to output so the line never glitches to the wrong level.
func (p *Pin) ConfigureOutput(initial bool) error {
	p.Set(initial)
	p.bank.SetFunction(p.m.FSELIndex, p.m.FSELOffset, FuncOutput)
	return nil
}

// ConfigureInput returns the line to input (high impedance).
func (p *Pin) ConfigureInput() {
	p.bank.SetFunction(p.m.FSELIndex, p.m.FSELOffset, FuncInput)
}

func (p *Pin) Set(high bool) {
	if high {
		p.bank.SetBit(p.m.Bank, p.m.Bit)
	} else {
		p.bank.ClearBit(p.m.Bank, p.m.Bit)
	}
}

func (p *Pin) Get() bool { return p.bank.Level(p.m.Bank, p.m.Bit) }

func (p *Pin) Number() int { return p.m.Pin }

func (p *Pin) Map() PinMap { return p.m }
