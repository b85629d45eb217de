// Package ringbuf provides a bounded FIFO of fixed-size byte slots with
// blocking, context-aware writes and reads.
//
// A [Buffer] decouples a producer and a consumer running at different
// cadences. A write claims the next free slot and blocks while every slot is
// full; a read consumes the oldest filled slot and blocks while the buffer is
// empty. No slot is overwritten before it has been read and no slot is read
// before it has been fully written.
//
// Slot ownership moves between the producer and the consumer through two
// channels of slot indices, so copying into or out of a slot never needs a
// lock: the channel send publishes the slot contents to the receiver.
package ringbuf

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by writes after [Buffer.Close], and by reads once
	// the buffer is closed and every queued slot has been consumed.
	ErrClosed = errors.New("ringbuf: closed")

	// ErrSlotTooLarge is returned when a write exceeds the slot size.
	ErrSlotTooLarge = errors.New("ringbuf: write exceeds slot size")

	// ErrShortBuffer is returned when a read destination is smaller than a slot.
	ErrShortBuffer = errors.New("ringbuf: read buffer smaller than slot size")

	// ErrInvalidSize is returned by [New] for a non-positive slot count or size.
	ErrInvalidSize = errors.New("ringbuf: slot count and size must be positive")

	// ErrFull is returned by [Buffer.TryWrite] when no slot is free.
	ErrFull = errors.New("ringbuf: full")

	// ErrEmpty is returned by [Buffer.TryRead] when no slot is filled.
	ErrEmpty = errors.New("ringbuf: empty")
)

// Buffer is a fixed-capacity ring of fixed-size slots. Write, Read and their
// Try variants are safe for concurrent use; the intended discipline is one
// writer and one reader.
type Buffer struct {
	slotSize int
	data     []byte // len(lens)*slotSize bytes of slot storage
	lens     []int  // valid byte count per slot, owned by whoever holds the index

	free   chan int // indices available to the writer
	filled chan int // indices holding data, in write order

	done      chan struct{}
	closeOnce sync.Once
}

// New allocates a Buffer with the given number of slots, each slotSize bytes.
func New(slots, slotSize int) (*Buffer, error) {
	if slots <= 0 || slotSize <= 0 {
		return nil, ErrInvalidSize
	}
	b := &Buffer{
		slotSize: slotSize,
		data:     make([]byte, slots*slotSize),
		lens:     make([]int, slots),
		free:     make(chan int, slots),
		filled:   make(chan int, slots),
		done:     make(chan struct{}),
	}
	for i := range slots {
		b.free <- i
	}
	return b, nil
}

// SlotSize returns the size of one slot in bytes.
func (b *Buffer) SlotSize() int { return b.slotSize }

// Cap returns the number of slots.
func (b *Buffer) Cap() int { return cap(b.free) }

// Len returns the number of filled slots waiting to be read.
func (b *Buffer) Len() int { return len(b.filled) }

// Write copies p into the next free slot, blocking while the buffer is full.
// It returns the number of bytes stored, which is len(p) on success.
//
// Write returns ctx.Err() if ctx is done first, and [ErrClosed] if the buffer
// is closed.
func (b *Buffer) Write(ctx context.Context, p []byte) (int, error) {
	if len(p) > b.slotSize {
		return 0, ErrSlotTooLarge
	}
	select {
	case <-b.done:
		return 0, ErrClosed
	default:
	}

	var idx int
	select {
	case idx = <-b.free:
	case <-b.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return b.put(idx, p), nil
}

// TryWrite is like [Buffer.Write] but returns [ErrFull] instead of blocking.
func (b *Buffer) TryWrite(p []byte) (int, error) {
	if len(p) > b.slotSize {
		return 0, ErrSlotTooLarge
	}
	select {
	case <-b.done:
		return 0, ErrClosed
	default:
	}
	select {
	case idx := <-b.free:
		return b.put(idx, p), nil
	default:
		return 0, ErrFull
	}
}

// Read copies the oldest filled slot into p, blocking while the buffer is
// empty. p must be at least [Buffer.SlotSize] bytes. It returns the number of
// bytes copied.
//
// Read returns ctx.Err() if ctx is done first. After [Buffer.Close], queued
// slots are still delivered; once they are exhausted Read returns [ErrClosed].
func (b *Buffer) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) < b.slotSize {
		return 0, ErrShortBuffer
	}
	select {
	case idx := <-b.filled:
		return b.take(idx, p), nil
	default:
	}

	select {
	case idx := <-b.filled:
		return b.take(idx, p), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-b.done:
		select {
		case idx := <-b.filled:
			return b.take(idx, p), nil
		default:
			return 0, ErrClosed
		}
	}
}

// TryRead is like [Buffer.Read] but returns [ErrEmpty] instead of blocking.
func (b *Buffer) TryRead(p []byte) (int, error) {
	if len(p) < b.slotSize {
		return 0, ErrShortBuffer
	}
	select {
	case idx := <-b.filled:
		return b.take(idx, p), nil
	default:
	}
	select {
	case <-b.done:
		return 0, ErrClosed
	default:
		return 0, ErrEmpty
	}
}

// Reset discards every queued slot and returns the buffer to empty. It must
// only be called while no Write is in flight; a concurrent reader simply
// observes an empty buffer.
func (b *Buffer) Reset() {
	for {
		select {
		case idx := <-b.filled:
			b.lens[idx] = 0
			b.free <- idx
		default:
			return
		}
	}
}

// Close marks the buffer closed and wakes every blocked writer and reader.
// Slots already filled remain readable. Close is idempotent.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Closed reports whether [Buffer.Close] has been called.
func (b *Buffer) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// put fills slot idx with p and queues it for reading.
func (b *Buffer) put(idx int, p []byte) int {
	n := copy(b.slot(idx), p)
	b.lens[idx] = n
	b.filled <- idx
	return n
}

// take copies slot idx into p and hands the slot back to the writer.
func (b *Buffer) take(idx int, p []byte) int {
	n := copy(p, b.slot(idx)[:b.lens[idx]])
	b.free <- idx
	return n
}

func (b *Buffer) slot(idx int) []byte {
	off := idx * b.slotSize
	return b.data[off : off+b.slotSize : off+b.slotSize]
}
