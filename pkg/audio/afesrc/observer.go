package afesrc

import "time"

// Observer receives pipeline events from a [Source]. Implementations must be
// safe for concurrent use: methods are called from the feed goroutine, the
// fetch goroutine and the ReadFrame caller.
type Observer interface {
	// CaptureStarted is called after Start launched the capture goroutines.
	CaptureStarted()
	// CaptureStopped is called after Stop tore the capture down.
	CaptureStopped()
	// ChunkFed is called after every successful engine feed with the
	// limiter's gain at the end of the chunk.
	ChunkFed(gain float32)
	// DeviceReadError is called for every failed hardware read.
	DeviceReadError(err error)
	// EngineFeedError is called once when a feed failure stops the feed
	// goroutine.
	EngineFeedError(err error)
	// EngineFetchError is called for every failed engine fetch.
	EngineFetchError(err error)
	// InvariantViolation is called when the pipeline drops data that breaks
	// a size invariant. kind is "fetch_size" or "read_size".
	InvariantViolation(kind string)
	// FrameRead is called after every successful ReadFrame with the time the
	// caller spent blocked.
	FrameRead(wait time.Duration)
}

// NopObserver implements [Observer] with no-ops.
type NopObserver struct{}

func (NopObserver) CaptureStarted()           {}
func (NopObserver) CaptureStopped()           {}
func (NopObserver) ChunkFed(float32)          {}
func (NopObserver) DeviceReadError(error)     {}
func (NopObserver) EngineFeedError(error)     {}
func (NopObserver) EngineFetchError(error)    {}
func (NopObserver) InvariantViolation(string) {}
func (NopObserver) FrameRead(time.Duration)   {}

var _ Observer = NopObserver{}
