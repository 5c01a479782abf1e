// services/softuart/internal/msgbuf/msgbuf.go
package msgbuf

import (
	"sync"

	"softuart-go/errcode"
)

// DefaultCapacity is the payload limit when none is configured.
const DefaultCapacity = 256

// Buffer holds one outbound message. The payload has two readers: the
// transmit cursor, advanced by the engine one byte at a time, and a
// read-once readback view consumed by the device front.
//
// The lock is only ever held for bounded copies, so the timer callback may
// take it.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int // readback length, 0 after consume
	txLen  int
	txPos  int
	gen    uint64 // bumped on every enqueue and consume
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Cap() int { return len(b.data) }

// Enqueue replaces the payload with p. It fails without touching the
// buffer when p exceeds capacity, or when bytes of the previous message
// are still waiting to be sent.
func (b *Buffer) Enqueue(p []byte) error {
	if len(p) > len(b.data) {
		return &errcode.E{C: errcode.Oversized, Op: "enqueue"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txPos < b.txLen {
		return &errcode.E{C: errcode.Busy, Op: "enqueue", Msg: "transmission in progress"}
	}
	n := copy(b.data, p)
	b.length = n
	b.txLen, b.txPos = n, 0
	b.gen++
	return nil
}

// Consume copies up to len(dst) bytes of the readback view into dst and
// clears it. Later calls return 0 until the next Enqueue.
func (b *Buffer) Consume(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := copy(dst, b.data[:b.length])
	if b.length > 0 {
		b.length = 0
		b.gen++
	}
	return n
}

// Peek returns a copy of the readback view and a token for Commit.
func (b *Buffer) Peek() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data[:b.length]...), b.gen
}

// Commit clears the readback view if nothing changed since the Peek that
// returned gen. It reports whether it cleared.
func (b *Buffer) Commit(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return false
	}
	if b.length > 0 {
		b.length = 0
		b.gen++
	}
	return true
}

// Next dequeues the next byte to transmit.
func (b *Buffer) Next() (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.txPos >= b.txLen {
		return 0, false
	}
	c := b.data[b.txPos]
	b.txPos++
	return c, true
}

// Drop discards bytes not yet transmitted.
func (b *Buffer) Drop() {
	b.mu.Lock()
	b.txPos = b.txLen
	b.mu.Unlock()
}

// IsEmpty reports whether no bytes are waiting for transmission.
func (b *Buffer) IsEmpty() bool { return b.Pending() == 0 }

// Pending is the count of bytes not yet dequeued by the engine.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txLen - b.txPos
}

// Len is the readback length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}
