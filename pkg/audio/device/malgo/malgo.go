// Package malgo implements [device.Device] on miniaudio through
// github.com/gen2brain/malgo.
//
// The device captures signed 32-bit samples, which carry a 24-bit codec's
// output left-justified, so the capture pipeline sees the same container
// layout as on an embedded I2S codec. miniaudio delivers audio from its own
// callback thread; captured periods are queued on a bounded channel and
// reassembled into exactly-sized reads by [Device.Read]. When the reader
// falls behind, whole periods are dropped and counted.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/micpipe/pkg/audio/device"
)

const defaultQueueDepth = 64

// Option configures a [Device].
type Option func(*Device)

// WithDeviceName selects the first capture device whose name contains name
// (case-insensitive). The default is the system default input.
func WithDeviceName(name string) Option {
	return func(d *Device) { d.deviceName = name }
}

// WithQueueDepth sets how many callback periods may be buffered between the
// miniaudio thread and Read.
func WithQueueDepth(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.queueDepth = n
		}
	}
}

// WithPeriodFrames sets the miniaudio period size in sample frames. Zero
// keeps the backend default.
func WithPeriodFrames(n uint32) Option {
	return func(d *Device) { d.periodFrames = n }
}

// Device is a miniaudio capture device.
type Device struct {
	deviceName   string
	queueDepth   int
	periodFrames uint32

	mu      sync.Mutex
	ctx     *ma.AllocatedContext
	dev     *ma.Device
	data    chan []byte
	pending []byte

	dropped atomic.Int64
}

var _ device.Device = (*Device)(nil)

// New returns a closed miniaudio capture device.
func New(opts ...Option) *Device {
	d := &Device{queueDepth: defaultQueueDepth}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FromOptions builds a device from a YAML options map. Recognised keys:
// device_name (string), queue_depth (int), period_frames (int).
func FromOptions(opts map[string]any) (*Device, error) {
	var o []Option
	if name, ok := opts["device_name"].(string); ok {
		o = append(o, WithDeviceName(name))
	}
	if n, ok := opts["queue_depth"].(int); ok {
		o = append(o, WithQueueDepth(n))
	}
	if n, ok := opts["period_frames"].(int); ok {
		if n < 0 {
			return nil, fmt.Errorf("malgo: period_frames must not be negative, got %d", n)
		}
		o = append(o, WithPeriodFrames(uint32(n)))
	}
	return New(o...), nil
}

// Dropped returns the number of callback periods discarded because the
// reader fell behind.
func (d *Device) Dropped() int64 { return d.dropped.Load() }

// Open implements [device.Device].
func (d *Device) Open(info device.SampleInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if info.BitsPerSample != 32 {
		return fmt.Errorf("%w: malgo capture is opened at 32 bits, got %d", device.ErrUnsupportedFormat, info.BitsPerSample)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return device.ErrAlreadyOpen
	}

	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, func(msg string) {
		slog.Debug("malgo", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS32
	cfg.Capture.Channels = uint32(info.Channels)
	cfg.SampleRate = uint32(info.SampleRate)
	if d.periodFrames > 0 {
		cfg.PeriodSizeInFrames = d.periodFrames
	}
	if d.deviceName != "" {
		id, err := findCaptureDevice(mctx, d.deviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}
	if info.ChannelMask != 0 && info.ChannelMask != device.ChannelMask(0) {
		slog.Warn("malgo: channel mask not supported, using backend channel map", "mask", info.ChannelMask)
	}

	data := make(chan []byte, d.queueDepth)
	callbacks := ma.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			b := make([]byte, len(input))
			copy(b, input)
			select {
			case data <- b:
			default:
				d.dropped.Add(1)
			}
		},
	}

	dev, err := ma.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: start capture device: %w", err)
	}

	d.ctx = mctx
	d.dev = dev
	d.data = data
	d.pending = nil
	slog.Info("malgo: capture started", "format", info.String(), "device", d.deviceName)
	return nil
}

// Read implements [device.Device].
func (d *Device) Read(ctx context.Context, p []byte) error {
	d.mu.Lock()
	data := d.data
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	if data == nil {
		return device.ErrNotOpen
	}

	n := copy(p, pending)
	pending = pending[n:]
	for n < len(p) {
		select {
		case b, ok := <-data:
			if !ok {
				return device.ErrNotOpen
			}
			m := copy(p[n:], b)
			n += m
			pending = b[m:]
		case <-ctx.Done():
			// Put the consumed bytes back so a cancelled read loses nothing.
			d.keep(append(append([]byte(nil), p[:n]...), pending...))
			return ctx.Err()
		}
	}
	d.keep(pending)
	return nil
}

func (d *Device) keep(rest []byte) {
	if len(rest) == 0 {
		return
	}
	d.mu.Lock()
	d.pending = rest
	d.mu.Unlock()
}

// Close implements [device.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return nil
	}
	var err error
	if stopErr := d.dev.Stop(); stopErr != nil {
		err = fmt.Errorf("malgo: stop capture device: %w", stopErr)
	}
	d.dev.Uninit()
	_ = d.ctx.Uninit()
	d.ctx.Free()
	close(d.data)

	d.dev = nil
	d.ctx = nil
	d.data = nil
	d.pending = nil
	return err
}

// Devices lists the names of the available capture devices.
func Devices() ([]string, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()
	infos, err := mctx.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func findCaptureDevice(mctx *ma.AllocatedContext, name string) (ma.DeviceID, error) {
	infos, err := mctx.Devices(ma.Capture)
	if err != nil {
		return ma.DeviceID{}, fmt.Errorf("malgo: list capture devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return ma.DeviceID{}, fmt.Errorf("malgo: no capture device matching %q", name)
}
