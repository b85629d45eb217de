// Package synth provides a synthetic capture [device.Device].
//
// The device generates 24-bit samples in 32-bit containers, exactly as a
// codec would deliver them. It stands in for the board codec in tests and on
// hosts without a microphone. By default it produces silence as fast as it is
// read; [WithRealtime] paces reads to the wall clock.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/device"
)

// MaxAmplitude is the largest positive 24-bit sample value.
const MaxAmplitude = 1<<23 - 1

// Generator returns the 24-bit sample for channel ch at sample index n.
type Generator func(n int64, ch int, sampleRate int) int32

// Silence is a [Generator] that always returns zero.
func Silence(int64, int, int) int32 { return 0 }

// Tone returns a [Generator] producing a sine wave at freq Hz. amplitude is
// relative to full scale and clamped to [0, 1].
func Tone(freq, amplitude float64) Generator {
	amplitude = max(0, min(amplitude, 1))
	return func(n int64, _ int, rate int) int32 {
		return int32(amplitude * MaxAmplitude * math.Sin(2*math.Pi*freq*float64(n)/float64(rate)))
	}
}

// Constant returns a [Generator] that always returns v.
func Constant(v int32) Generator {
	return func(int64, int, int) int32 { return v }
}

// Option configures a [Device].
type Option func(*Device)

// WithGenerator sets the sample generator. The default is [Silence].
func WithGenerator(g Generator) Option {
	return func(d *Device) {
		if g != nil {
			d.gen = g
		}
	}
}

// WithRealtime paces Read so that audio is delivered no faster than the
// sample rate.
func WithRealtime(on bool) Option {
	return func(d *Device) { d.realtime = on }
}

// WithOpenError makes every Open fail with err.
func WithOpenError(err error) Option {
	return func(d *Device) { d.openErr = err }
}

// WithReadFailures makes the first n Read calls after each Open fail with
// err without producing data.
func WithReadFailures(n int, err error) Option {
	return func(d *Device) {
		d.readFailures = n
		d.readErr = err
	}
}

// ErrInjected is the default error for injected read failures.
var ErrInjected = errors.New("synth: injected read failure")

// Device is a synthetic capture device. It is safe for concurrent use.
type Device struct {
	gen          Generator
	realtime     bool
	openErr      error
	readFailures int
	readErr      error

	mu        sync.Mutex
	open      bool
	info      device.SampleInfo
	pos       int64
	started   time.Time
	failLeft  int
	opens     int
	closes    int
	reads     int
	readFails int
}

var _ device.Device = (*Device)(nil)

// New returns a closed synthetic device.
func New(opts ...Option) *Device {
	d := &Device{gen: Silence, readErr: ErrInjected}
	for _, o := range opts {
		o(d)
	}
	if d.readErr == nil {
		d.readErr = ErrInjected
	}
	return d
}

// Open implements [device.Device].
func (d *Device) Open(info device.SampleInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	if d.open {
		return device.ErrAlreadyOpen
	}
	if err := info.Validate(); err != nil {
		return err
	}
	if info.BitsPerSample != audio.ContainerBytes*8 {
		return fmt.Errorf("%w: synth delivers 32-bit containers, got %d", device.ErrUnsupportedFormat, info.BitsPerSample)
	}
	d.open = true
	d.info = info
	d.pos = 0
	d.started = time.Now()
	d.failLeft = d.readFailures
	d.opens++
	return nil
}

// Read implements [device.Device].
func (d *Device) Read(ctx context.Context, p []byte) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return device.ErrNotOpen
	}
	d.reads++
	if d.failLeft > 0 {
		d.failLeft--
		d.readFails++
		d.mu.Unlock()
		return d.readErr
	}
	info := d.info
	frameBytes := info.FrameBytes()
	if len(p)%frameBytes != 0 {
		d.mu.Unlock()
		return fmt.Errorf("synth: read of %d bytes is not a multiple of %d-byte frames", len(p), frameBytes)
	}
	frames := int64(len(p) / frameBytes)
	start := d.pos
	d.pos += frames
	began := d.started
	d.mu.Unlock()

	if d.realtime {
		due := began.Add(time.Duration(float64(start+frames) / float64(info.SampleRate) * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}

	off := 0
	for n := start; n < start+frames; n++ {
		for ch := range info.Channels {
			audio.PutContainer(p[off:], d.gen(n, ch, info.SampleRate))
			off += audio.ContainerBytes
		}
	}
	return nil
}

// Close implements [device.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		d.open = false
		d.closes++
	}
	return nil
}

// IsOpen reports whether the device is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Realtime reports whether reads are paced to the wall clock.
func (d *Device) Realtime() bool { return d.realtime }

// Info returns the layout of the most recent Open.
func (d *Device) Info() device.SampleInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Stats reports how many times the device was opened, closed and read, and
// how many reads failed by injection.
type Stats struct {
	Opens, Closes, Reads, ReadFailures int
}

// Stats returns the device's call counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Opens: d.opens, Closes: d.closes, Reads: d.reads, ReadFailures: d.readFails}
}
