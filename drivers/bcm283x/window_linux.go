//go:build linux

package bcm283x

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"softuart-go/errcode"
)

// Window owns a mapping of the GPIO block. The mapped address never leaves
// the Window; callers use the embedded Bank accessors.
type Window struct {
	*Bank
	mem []byte
}

// Open maps BlockSize bytes of path at offset. Use /dev/gpiomem with
// offset 0, or /dev/mem with the peripheral base plus GPIOOffset.
func Open(path string, offset int64) (*Window, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, &errcode.E{C: errcode.MapFailed, Op: "bcm283x.Open", Msg: path, Err: err}
	}
	// The mapping outlives the descriptor.
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), offset, BlockSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &errcode.E{C: errcode.MapFailed, Op: "bcm283x.Open", Msg: "mmap", Err: err}
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), len(mem)/4)
	bank, err := NewBank(words)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	return &Window{Bank: bank, mem: mem}, nil
}

// Close unmaps the block. No Bank or Pin derived from the Window may be
// used afterwards.
func (w *Window) Close() error {
	if w.mem == nil {
		return errcode.Closed
	}
	mem := w.mem
	w.mem = nil
	w.Bank.words = nil
	return unix.Munmap(mem)
}
