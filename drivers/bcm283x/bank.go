package bcm283x

import (
	"sync"
	"sync/atomic"

	"softuart-go/errcode"
)

// Bank is a typed view over the GPIO register words. Every access is a
// single 32-bit load or store.
type Bank struct {
	mu    sync.Mutex // function select read-modify-write
	words []uint32

	// sim latches set/clear strobes into the level register, standing in
	// for the pad logic when there is no hardware behind the words.
	sim bool
}

// NewBank wraps words, which must cover the whole GPIO block. Callers own
// the memory; NewBank never copies it.
func NewBank(words []uint32) (*Bank, error) {
	if len(words) < numWords {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "bcm283x.NewBank", Msg: "register window too small"}
	}
	return &Bank{words: words}, nil
}

// NewMemoryBank returns a bank over zeroed process memory, for dry runs
// and fixtures.
func NewMemoryBank() *Bank {
	return &Bank{words: make([]uint32, numWords), sim: true}
}

// SetFunction replaces the 3-bit field at offset in function select
// register reg, leaving every other bit untouched.
func (b *Bank) SetFunction(reg, offset int, fn Function) {
	b.mu.Lock()
	p := &b.words[regFSEL0+reg]
	v := atomic.LoadUint32(p)
	v &^= fselMask << offset
	v |= (uint32(fn) & fselMask) << offset
	atomic.StoreUint32(p, v)
	b.mu.Unlock()
}

// Function reads back the 3-bit field at offset in register reg.
func (b *Bank) Function(reg, offset int) Function {
	return Function(atomic.LoadUint32(&b.words[regFSEL0+reg]) >> offset & fselMask)
}

// SetBit strobes the set register of bank with a single-bit mask.
func (b *Bank) SetBit(bank, bit int) {
	atomic.StoreUint32(&b.words[regSET0+bank], 1<<bit)
	if b.sim {
		atomic.OrUint32(&b.words[regLEV0+bank], 1<<bit)
	}
}

// ClearBit strobes the clear register of bank with a single-bit mask.
func (b *Bank) ClearBit(bank, bit int) {
	atomic.StoreUint32(&b.words[regCLR0+bank], 1<<bit)
	if b.sim {
		atomic.AndUint32(&b.words[regLEV0+bank], ^uint32(1<<bit))
	}
}

// Level reads the pin level register bit.
func (b *Bank) Level(bank, bit int) bool {
	return atomic.LoadUint32(&b.words[regLEV0+bank])&(1<<bit) != 0
}

// Word returns register word i. Diagnostics only.
func (b *Bank) Word(i int) uint32 { return atomic.LoadUint32(&b.words[i]) }
