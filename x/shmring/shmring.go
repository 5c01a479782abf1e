package shmring

import "sync/atomic"

// Ring is a single-producer, single-consumer byte ring.
// The producer side never blocks or allocates, so it may be driven from
// timer callback context.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	drops atomic.Uint32

	readable chan struct{} // 0->>0 available edge
}

// New allocates a ring of size bytes. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// ---- Producer side ----

func (r *Ring) Space() int {
	return int(r.size() - (r.wr.Load() - r.rd.Load()))
}

// Put appends one byte. A full ring drops the byte and counts it.
func (r *Ring) Put(b byte) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	avail := wr - rd
	if avail >= r.size() {
		r.drops.Add(1)
		return false
	}
	r.buf[wr&r.mask] = b
	r.wr.Store(wr + 1) // release
	if avail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Drops reports bytes discarded by Put on a full ring.
func (r *Ring) Drops() uint32 { return r.drops.Load() }

// ---- Consumer side ----

func (r *Ring) Available() int {
	return int(r.wr.Load() - r.rd.Load())
}

func (r *Ring) ReadInto(dst []byte) (n int) {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	avail := int(wr - rd)
	if avail <= 0 {
		return 0
	}
	if len(dst) < avail {
		avail = len(dst)
	}
	n = avail

	size := r.size()
	rdIdx := rd & r.mask
	first := int(size - rdIdx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	r.rd.Store(rd + uint32(n)) // release
	return n
}

// Readable is signalled on each empty->non-empty transition.
func (r *Ring) Readable() <-chan struct{} { return r.readable }
