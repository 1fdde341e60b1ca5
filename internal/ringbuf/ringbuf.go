// Package ringbuf implements a fixed-capacity byte buffer keeping only the
// most recently written bytes.
package ringbuf

import "sync"

// Buffer is a circular byte buffer. Once more than Cap bytes were written,
// the oldest bytes are silently overwritten. All methods are safe for
// concurrent use.
type Buffer struct {
	mx      sync.RWMutex
	data    []byte
	pos     int    // next write position within data
	written uint64 // total number of bytes ever written
}

// New returns a buffer holding at most capacity bytes. A negative capacity
// is treated as zero, which yields an always-empty buffer.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Write appends p, discarding the oldest content when full. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	c := len(b.data)

	b.mx.Lock()
	defer b.mx.Unlock()
	b.written += uint64(n)
	if c == 0 {
		return n, nil
	}
	// only the tail of a write larger than the buffer survives
	if len(p) > c {
		p = p[len(p)-c:]
	}
	for len(p) > 0 {
		k := copy(b.data[b.pos:], p)
		b.pos = (b.pos + k) % c
		p = p[k:]
	}
	return n, nil
}

// Snapshot returns a copy of the logical content in chronological order.
func (b *Buffer) Snapshot() []byte {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []byte {
	size := b.lenLocked()
	out := make([]byte, size)
	if size < len(b.data) {
		copy(out, b.data[:size])
		return out
	}
	k := copy(out, b.data[b.pos:])
	copy(out[k:], b.data[:b.pos])
	return out
}

// Len returns the logical content length, min(Written, Cap).
func (b *Buffer) Len() int {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	if b.written < uint64(len(b.data)) {
		return int(b.written)
	}
	return len(b.data)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Written returns the number of bytes written since creation, including
// the overwritten ones.
func (b *Buffer) Written() uint64 {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.written
}
