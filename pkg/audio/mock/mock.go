// Package mock provides an in-memory mock implementation of [audio.Source]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every lifecycle call so that
// tests can assert on call order and counts, and it exposes exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    NegotiateResult: audio.Caps{Codec: audio.CodecPCM, SampleRate: 16000, Channels: 1, BitsPerSample: 16},
//	    Fill:            func(n int64, data []byte) { data[0] = byte(n) },
//	}
//	sess := capture.New(src, opts...)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
// Set the exported Result/Error fields before use; inspect Calls after.
type Source struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error

	// CodecsResult is returned by SupportedCodecs. Defaults to [audio.CodecPCM].
	CodecsResult []audio.Codec

	// NegotiateResult is returned by Negotiate. If its Codec is
	// [audio.CodecNone], the requested caps are echoed back.
	NegotiateResult audio.Caps

	// NegotiateError is returned by Negotiate.
	NegotiateError error

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CloseError is returned by Close.
	CloseError error

	// ReadError, if non-nil, is returned by ReadFrame once ReadErrorAfter
	// frames have been delivered.
	ReadError      error
	ReadErrorAfter int

	// FrameInterval, if non-zero, delays every ReadFrame to simulate a
	// real-time source. The delay honours ctx.
	FrameInterval time.Duration

	// FrameDuration is the duration of one delivered frame, used to stamp
	// timestamps. Defaults to 10ms.
	FrameDuration time.Duration

	// Fill, if set, writes the content of frame n into data. Frames are
	// zero-filled otherwise.
	Fill func(n int64, data []byte)

	// Calls records every lifecycle method name in invocation order
	// ("Open", "Negotiate", "Start", "Stop", "Close").
	Calls []string

	// NegotiateCalls records the caps passed to each Negotiate call.
	NegotiateCalls []audio.Caps

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	frames  int64
	started bool
}

var _ audio.Source = (*Source)(nil)

// Open implements [audio.Source]. Returns OpenError.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "Open")
	return s.OpenError
}

// SupportedCodecs implements [audio.Source].
func (s *Source) SupportedCodecs() []audio.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CodecsResult == nil {
		return []audio.Codec{audio.CodecPCM}
	}
	return s.CodecsResult
}

// Negotiate implements [audio.Source]. Records in and returns
// NegotiateResult / NegotiateError.
func (s *Source) Negotiate(in audio.Caps) (audio.Caps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "Negotiate")
	s.NegotiateCalls = append(s.NegotiateCalls, in)
	if s.NegotiateError != nil {
		return audio.Caps{}, s.NegotiateError
	}
	if s.NegotiateResult.Codec == audio.CodecNone {
		s.NegotiateResult = in
	}
	return s.NegotiateResult, nil
}

// Start implements [audio.Source]. Returns StartError; on success the frame
// counter restarts at zero.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "Start")
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	s.frames = 0
	return nil
}

// ReadFrame implements [audio.Source]. It fails with [audio.ErrNotSupported]
// unless started.
func (s *Source) ReadFrame(ctx context.Context, frame *audio.AudioFrame) error {
	s.mu.Lock()
	s.CallCountReadFrame++
	if !s.started {
		s.mu.Unlock()
		return audio.ErrNotSupported
	}
	if s.ReadError != nil && s.frames >= int64(s.ReadErrorAfter) {
		err := s.ReadError
		s.mu.Unlock()
		return err
	}
	interval := s.FrameInterval
	s.mu.Unlock()

	if interval > 0 {
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return audio.ErrNotSupported
	}
	n := s.frames
	s.frames++
	clear(frame.Data)
	if s.Fill != nil {
		s.Fill(n, frame.Data)
	}
	d := s.FrameDuration
	if d == 0 {
		d = 10 * time.Millisecond
	}
	frame.Timestamp = time.Duration(n) * d
	frame.SampleRate = s.NegotiateResult.SampleRate
	frame.Channels = s.NegotiateResult.Channels
	return nil
}

// Stop implements [audio.Source]. Returns StopError.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "Stop")
	s.started = false
	return s.StopError
}

// Close implements [audio.Source]. Returns CloseError.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "Close")
	s.started = false
	return s.CloseError
}

// CallLog returns a copy of Calls.
func (s *Source) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// FramesDelivered returns the number of frames delivered since the last Start.
func (s *Source) FramesDelivered() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
