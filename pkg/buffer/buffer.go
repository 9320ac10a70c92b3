// Package buffer provides fixed-capacity byte buffers.
//
// Every field the agent copies out of a job document lands in one of these
// buffers. Capacity is decided once at initialization; a write that would
// exceed it fails with ErrSizeExceeded instead of growing or truncating.
package buffer

import (
	"errors"
	"fmt"
)

// ErrSizeExceeded is returned when a value does not fit the buffer capacity.
var ErrSizeExceeded = errors.New("buffer: value exceeds capacity")

// Buffer is a byte buffer with a fixed maximum capacity.
// The zero value is unusable; create one with New.
type Buffer struct {
	data []byte
}

// New creates a buffer that can hold up to capacity bytes.
// The storage is allocated once, up front.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Set replaces the buffer contents with a copy of p.
// It fails with ErrSizeExceeded if p does not fit.
func (b *Buffer) Set(p []byte) error {
	if len(p) > cap(b.data) {
		return fmt.Errorf("%w: need %d, capacity %d", ErrSizeExceeded, len(p), cap(b.data))
	}
	b.data = b.data[:len(p)]
	copy(b.data, p)
	return nil
}

// SetString replaces the buffer contents with a copy of s.
func (b *Buffer) SetString(s string) error {
	if len(s) > cap(b.data) {
		return fmt.Errorf("%w: need %d, capacity %d", ErrSizeExceeded, len(s), cap(b.data))
	}
	b.data = b.data[:len(s)]
	copy(b.data, s)
	return nil
}

// Bytes returns the current contents. The returned slice aliases the
// buffer storage and is only valid until the next Set.
func (b *Buffer) Bytes() []byte { return b.data }

// String returns the current contents as a string.
func (b *Buffer) String() string { return string(b.data) }

// Len returns the length of the current contents.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool { return len(b.data) == 0 }

// Reset discards the contents without releasing the storage.
func (b *Buffer) Reset() { b.data = b.data[:0] }
