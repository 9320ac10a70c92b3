// Package bitmap implements the block-reception bitmap engine: a bit per
// file block, tracking which blocks of the current transfer have arrived.
//
// Storage is sized once for the configured maximum block count and reused
// across transfers; Init only adjusts the logical length.
package bitmap

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned by Init when the requested block count
// does not fit the storage allocated at creation.
var ErrCapacityExceeded = errors.New("bitmap: block count exceeds capacity")

// ErrOutOfRange is returned by MarkReceived for an index outside the
// current block count. Callers treat this as a protocol violation.
var ErrOutOfRange = errors.New("bitmap: block index out of range")

const wordBits = 64

// Bitmap tracks per-block reception for one file transfer. It is not safe
// for concurrent use; the agent mutates it only from its processing loop.
type Bitmap struct {
	words    []uint64
	capacity uint32
	blocks   uint32
	received uint32
}

// New allocates a bitmap able to track up to maxBlocks blocks.
func New(maxBlocks uint32) *Bitmap {
	return &Bitmap{
		words:    make([]uint64, (int(maxBlocks)+wordBits-1)/wordBits),
		capacity: maxBlocks,
	}
}

// Init prepares the bitmap for a transfer of blockCount blocks, clearing
// all previously marked bits. blockCount must be at least 1 and at most
// the capacity fixed at creation.
func (b *Bitmap) Init(blockCount uint32) error {
	if blockCount == 0 {
		return fmt.Errorf("bitmap: block count must be at least 1")
	}
	if blockCount > b.capacity {
		return fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, blockCount, b.capacity)
	}
	for i := range b.words {
		b.words[i] = 0
	}
	b.blocks = blockCount
	b.received = 0
	return nil
}

// MarkReceived records reception of block idx. The first mark of an index
// returns true and increments the received count; marking it again is
// idempotent and returns false. An index outside the current block count
// is rejected with ErrOutOfRange.
func (b *Bitmap) MarkReceived(idx uint32) (bool, error) {
	if idx >= b.blocks {
		return false, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, idx, b.blocks)
	}
	word, bit := idx/wordBits, uint64(1)<<(idx%wordBits)
	if b.words[word]&bit != 0 {
		return false, nil
	}
	b.words[word] |= bit
	b.received++
	return true, nil
}

// IsComplete reports whether every block has been received. Once true it
// stays true until the next Init.
func (b *Bitmap) IsComplete() bool {
	return b.blocks > 0 && b.received == b.blocks
}

// Received returns the number of distinct blocks marked so far.
func (b *Bitmap) Received() uint32 { return b.received }

// Blocks returns the block count set by the last Init.
func (b *Bitmap) Blocks() uint32 { return b.blocks }

// AppendMissing appends up to maxCount not-yet-received block indices to
// dst, in ascending order, and returns the extended slice.
func (b *Bitmap) AppendMissing(dst []uint32, maxCount int) []uint32 {
	if maxCount <= 0 {
		return dst
	}
	n := 0
	for idx := uint32(0); idx < b.blocks && n < maxCount; idx++ {
		if b.words[idx/wordBits]&(uint64(1)<<(idx%wordBits)) == 0 {
			dst = append(dst, idx)
			n++
		}
	}
	return dst
}

// NextMissing returns up to maxCount missing block indices in ascending
// order.
func (b *Bitmap) NextMissing(maxCount int) []uint32 {
	return b.AppendMissing(nil, maxCount)
}
