package types

import "encoding/json"

// ------------------------
// Serial
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

func (p Parity) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

// UnmarshalJSON accepts "none"/"even"/"odd" or the numeric value.
func (p *Parity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint8
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*p = Parity(n)
		return nil
	}
	switch s {
	case "", "none":
		*p = ParityNone
	case "even":
		*p = ParityEven
	case "odd":
		*p = ParityOdd
	default:
		*p = Parity(0xFF) // rejected by format validation
	}
	return nil
}

type SerialSetBaud struct {
	Baud uint32 `json:"baud"`
}

type SerialSetFormat struct {
	DataBits uint8  `json:"data_bits"`
	StopBits uint8  `json:"stop_bits"`
	Parity   Parity `json:"parity"`
}

// SerialWrite is the payload of a write control.
type SerialWrite struct {
	Data []byte `json:"data"`
	Wait bool   `json:"wait,omitempty"` // wait for idle instead of failing busy
}

type SerialWriteAck struct {
	OK bool `json:"ok"`
	N  int  `json:"n"`
}

type SerialRead struct {
	Max int `json:"max,omitempty"` // 0 means buffer capacity
}

type SerialReadReply struct {
	OK   bool   `json:"ok"`
	Data []byte `json:"data"`
}

type SerialInfo struct {
	Pin      int             `json:"pin"`
	Baud     uint32          `json:"baud"`
	Format   SerialSetFormat `json:"format"`
	Capacity int             `json:"capacity"`
	BitNs    int64           `json:"bit_ns"`
}
