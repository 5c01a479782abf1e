// Package bcm283x drives the GPIO register block of the Broadcom
// BCM2835/6/7 family through a memory-mapped window.
package bcm283x

const (
	// GPIO block offset from the peripheral base.
	GPIOOffset = 0x200000

	// Peripheral bases as seen from the ARM cores.
	PeriphBaseBCM2835 = 0x20000000
	PeriphBaseBCM2836 = 0x3F000000
	PeriphBaseBCM2711 = 0xFE000000

	// Size of the mapped GPIO window (one page covers every register used).
	BlockSize = 4096

	NumPins = 54

	// --- Word indices (byte offset / 4) ---
	regFSEL0 = 0x00 / 4 // GPFSEL0..5
	regSET0  = 0x1C / 4 // GPSET0..1, write-only
	regCLR0  = 0x28 / 4 // GPCLR0..1, write-only
	regLEV0  = 0x34 / 4 // GPLEV0..1, read-only

	numWords = 0xB4 / 4

	// --- Function select field ---
	fselBits    = 3
	fselMask    = 0b111
	pinsPerFSEL = 10
	pinsPerBank = 32
)

// Function is a 3-bit GPFSEL field value.
type Function uint32

const (
	FuncInput  Function = 0b000
	FuncOutput Function = 0b001
	FuncAlt0   Function = 0b100
	FuncAlt1   Function = 0b101
	FuncAlt2   Function = 0b110
	FuncAlt3   Function = 0b111
	FuncAlt4   Function = 0b011
	FuncAlt5   Function = 0b010
)

// PinMap locates a logical pin in the register block.
type PinMap struct {
	Pin int

	FSELIndex  int // function select register (pin / 10)
	FSELOffset int // field offset in bits ((pin % 10) * 3)
	Bank       int // set/clear/level bank (pin / 32)
	Bit        int // bit in the bank (pin % 32)
}

// MapPin computes the register mapping for pin. ok is false for pins the
// block does not have.
func MapPin(pin int) (m PinMap, ok bool) {
	if pin < 0 || pin >= NumPins {
		return PinMap{}, false
	}
	return PinMap{
		Pin:        pin,
		FSELIndex:  pin / pinsPerFSEL,
		FSELOffset: (pin % pinsPerFSEL) * fselBits,
		Bank:       pin / pinsPerBank,
		Bit:        pin % pinsPerBank,
	}, true
}
