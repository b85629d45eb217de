// Package device defines the hardware capture device boundary.
//
// A [Device] delivers raw interleaved samples in fixed-width little-endian
// containers. The capture pipeline always opens devices with 32-bit
// containers holding 24 significant bits; see [audio.ExtractSample].
package device

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by Read when the device has not been opened or
	// has been closed.
	ErrNotOpen = errors.New("device: not open")

	// ErrAlreadyOpen is returned by Open on a device that is already open.
	ErrAlreadyOpen = errors.New("device: already open")

	// ErrUnsupportedFormat is returned by Open for a sample layout the
	// backend cannot deliver.
	ErrUnsupportedFormat = errors.New("device: unsupported format")
)

// SampleInfo is the format a device is opened with.
type SampleInfo struct {
	// SampleRate in Hz.
	SampleRate int
	// BitsPerSample is the container width, not the significant bit count.
	BitsPerSample int
	// Channels is the number of interleaved channels.
	Channels int
	// ChannelMask selects which physical inputs feed the channels. Zero means
	// the backend default.
	ChannelMask uint16
}

// FrameBytes returns the size of one interleaved sample frame.
func (s SampleInfo) FrameBytes() int { return s.Channels * s.BitsPerSample / 8 }

// String formats s for logs.
func (s SampleInfo) String() string {
	return fmt.Sprintf("%dHz %dch %dbit mask=%#x", s.SampleRate, s.Channels, s.BitsPerSample, s.ChannelMask)
}

// Validate reports whether s describes a usable layout.
func (s SampleInfo) Validate() error {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
	switch s.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, s.BitsPerSample)
	}
	return nil
}

// ChannelMask returns a mask with one bit set per listed physical channel.
func ChannelMask(channels ...int) uint16 {
	var m uint16
	for _, ch := range channels {
		if ch >= 0 && ch < 16 {
			m |= 1 << ch
		}
	}
	return m
}

// Device is a capture device.
//
// Open and Close bracket a capture run and may be repeated. Read is called
// from a single goroutine.
type Device interface {
	// Open starts capture with the given layout.
	Open(info SampleInfo) error

	// Read fills p completely with captured samples. p is a whole number of
	// sample frames. Read blocks until enough audio is available and returns
	// ctx.Err() if ctx is done first. A non-nil error leaves the device open;
	// callers may retry.
	Read(ctx context.Context, p []byte) error

	// Close stops capture. Closing a closed device is a no-op.
	Close() error
}
