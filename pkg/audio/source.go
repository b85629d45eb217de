// Package audio defines the types and interfaces shared by the microphone
// capture pipeline.
//
// The primary abstraction is [Source]: a capture-side audio producer with an
// explicit lifecycle that a capture session drives:
//
//	Open → Negotiate → Start → ReadFrame… → Stop → (Start…) → Close
//
// Implementations live in sub-packages (e.g., audio/afesrc, which bridges a
// hardware device and a voice front-end engine). Sub-packages under audio/
// also provide the building blocks those implementations use: the limiter,
// the bounded ring buffer, the engine capability and the device interface.
package audio

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Source] implementations. Callers should match
// them with [errors.Is]; implementations wrap them with context.
var (
	// ErrNotSupported reports a request the source cannot honour: an
	// unsupported format, a missing device, or reading while not started.
	ErrNotSupported = errors.New("audio: not supported")

	// ErrNoMemory reports that a buffer needed to start capture could not be
	// allocated.
	ErrNoMemory = errors.New("audio: no memory")

	// ErrInternal reports a pipeline invariant violation or a fatal failure
	// inside the processing chain. No partial frame accompanies it.
	ErrInternal = errors.New("audio: internal error")

	// ErrInvalidState reports a lifecycle call made out of order.
	ErrInvalidState = errors.New("audio: invalid state")
)

// Source is a capture-side audio producer driven by a capture session.
//
// Lifecycle methods (Open, Negotiate, Start, Stop, Close) must be called from a
// single owner goroutine. ReadFrame may be called from a different goroutine
// than the owner; a Stop issued while ReadFrame is blocked wakes the reader.
type Source interface {
	// Open prepares the source for negotiation. It fails with [ErrNotSupported]
	// if no hardware device is bound.
	Open() error

	// SupportedCodecs lists the codecs this source can produce.
	SupportedCodecs() []Codec

	// Negotiate validates the requested caps and returns the caps the source
	// will deliver. Unsupported requests fail with [ErrNotSupported].
	Negotiate(in Caps) (Caps, error)

	// Start opens the hardware device and begins producing frames.
	Start() error

	// ReadFrame fills frame.Data, whose length must be a whole multiple of the
	// source's internal frame size, and stamps frame.Timestamp. It blocks until
	// enough audio is available, ctx is done, or the source is stopped.
	ReadFrame(ctx context.Context, frame *AudioFrame) error

	// Stop halts frame production. Start may be called again afterwards
	// without renegotiating.
	Stop() error

	// Close releases every resource held by the source. It is terminal.
	Close() error
}
