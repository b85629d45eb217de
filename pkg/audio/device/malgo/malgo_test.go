package malgo

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/micpipe/pkg/audio/device"
)

// openFake wires a device to a hand-fed period channel so Read can be tested
// without an audio backend.
func openFake(d *Device, depth int) chan []byte {
	ch := make(chan []byte, depth)
	d.data = ch
	return ch
}

func TestRead_NotOpen(t *testing.T) {
	d := New()
	if err := d.Read(context.Background(), make([]byte, 8)); !errors.Is(err, device.ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestRead_ReassemblesPeriods(t *testing.T) {
	d := New()
	ch := openFake(d, 4)
	ch <- []byte{1, 2, 3}
	ch <- []byte{4, 5, 6, 7, 8}
	ch <- []byte{9, 10}

	p := make([]byte, 4)
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if string(p) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("first read = %v", p)
	}
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if string(p) != string([]byte{5, 6, 7, 8}) {
		t.Fatalf("second read = %v", p)
	}
}

func TestRead_CancelKeepsPartialData(t *testing.T) {
	d := New()
	ch := openFake(d, 4)
	ch <- []byte{1, 2}
	ch <- []byte{3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := make([]byte, 4)
	_ = d.Read(ctx, p)

	ch <- []byte{4, 5, 6}
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if string(p) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("read after cancel = %v, want [1 2 3 4]", p)
	}
}

func TestRead_ClosedChannel(t *testing.T) {
	d := New()
	ch := openFake(d, 1)
	close(ch)
	if err := d.Read(context.Background(), make([]byte, 4)); !errors.Is(err, device.ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestOpen_RejectsNon32Bit(t *testing.T) {
	d := New()
	err := d.Open(device.SampleInfo{SampleRate: 16000, BitsPerSample: 16, Channels: 1})
	if !errors.Is(err, device.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestClose_Unopened(t *testing.T) {
	if err := New().Close(); err != nil {
		t.Errorf("Close on unopened device: %v", err)
	}
}

func TestFromOptions(t *testing.T) {
	d, err := FromOptions(map[string]any{"device_name": "USB", "queue_depth": 8, "period_frames": 160})
	if err != nil {
		t.Fatal(err)
	}
	if d.deviceName != "USB" || d.queueDepth != 8 || d.periodFrames != 160 {
		t.Errorf("options not applied: %+v", d)
	}
	if _, err := FromOptions(map[string]any{"period_frames": -1}); err == nil {
		t.Error("expected error for negative period_frames")
	}
}
