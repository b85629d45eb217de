package synth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/device"
	"github.com/MrWong99/micpipe/pkg/audio/device/synth"
)

var mono32 = device.SampleInfo{SampleRate: 16000, BitsPerSample: 32, Channels: 1, ChannelMask: device.ChannelMask(0)}

func TestRead_NotOpen(t *testing.T) {
	d := synth.New()
	if err := d.Read(context.Background(), make([]byte, 64)); !errors.Is(err, device.ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}

func TestOpenCloseTracksState(t *testing.T) {
	d := synth.New()
	if d.IsOpen() {
		t.Fatal("new device reports open")
	}
	if err := d.Open(mono32); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !d.IsOpen() {
		t.Fatal("IsOpen = false after Open")
	}
	if err := d.Open(mono32); !errors.Is(err, device.ErrAlreadyOpen) {
		t.Errorf("second Open err = %v, want ErrAlreadyOpen", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if d.IsOpen() {
		t.Fatal("IsOpen = true after Close")
	}
	if err := d.Read(context.Background(), make([]byte, 4)); !errors.Is(err, device.ErrNotOpen) {
		t.Errorf("Read after Close err = %v, want ErrNotOpen", err)
	}
	st := d.Stats()
	if st.Opens != 1 || st.Closes != 1 {
		t.Errorf("Stats = %+v, want 1 open and 1 close", st)
	}
}

func TestOpen_Rejects16Bit(t *testing.T) {
	d := synth.New()
	info := mono32
	info.BitsPerSample = 16
	if err := d.Open(info); !errors.Is(err, device.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRead_SilenceIsZero(t *testing.T) {
	d := synth.New()
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	p := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestRead_ConstantContainers(t *testing.T) {
	d := synth.New(synth.WithGenerator(synth.Constant(-12345)))
	info := mono32
	info.Channels = 2
	if err := d.Open(info); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 3*info.FrameBytes())
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(p); i += audio.ContainerBytes {
		if got := audio.ExtractSample(p[i:]); got != -12345 {
			t.Fatalf("container %d = %d, want -12345", i/4, got)
		}
		if p[i] != 0 {
			t.Fatalf("container %d padding byte = %d", i/4, p[i])
		}
	}
}

func TestRead_PartialFrame(t *testing.T) {
	d := synth.New()
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	if err := d.Read(context.Background(), make([]byte, 6)); err == nil {
		t.Error("expected error for partial frame read")
	}
}

func TestTone_ContinuesAcrossReads(t *testing.T) {
	gen := synth.Tone(1000, 1)
	d := synth.New(synth.WithGenerator(gen))
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 16*audio.ContainerBytes)
	for range 2 {
		if err := d.Read(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	// Second read starts at sample index 16.
	if got, want := audio.ExtractSample(p), gen(16, 0, 16000); got != want {
		t.Errorf("first sample of second read = %d, want %d", got, want)
	}
}

func TestReadFailures_ResetOnOpen(t *testing.T) {
	d := synth.New(synth.WithReadFailures(2, nil))
	for round := range 2 {
		if err := d.Open(mono32); err != nil {
			t.Fatal(err)
		}
		p := make([]byte, 4)
		for i := range 2 {
			if err := d.Read(context.Background(), p); !errors.Is(err, synth.ErrInjected) {
				t.Fatalf("round %d read %d err = %v, want ErrInjected", round, i, err)
			}
		}
		if err := d.Read(context.Background(), p); err != nil {
			t.Fatalf("round %d read after failures: %v", round, err)
		}
		_ = d.Close()
	}
	if st := d.Stats(); st.ReadFailures != 4 || st.Reads != 6 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestOpenError(t *testing.T) {
	boom := errors.New("codec busy")
	d := synth.New(synth.WithOpenError(boom))
	if err := d.Open(mono32); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if d.IsOpen() {
		t.Error("device open after failed Open")
	}
}

func TestRealtime_PacesAndCancels(t *testing.T) {
	d := synth.New(synth.WithRealtime(true))
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	// 50 ms of audio.
	p := make([]byte, 800*audio.ContainerBytes)
	start := time.Now()
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < 40*time.Millisecond {
		t.Errorf("realtime read returned after %v, want >= ~50ms", el)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Read(ctx, p); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled read err = %v, want Canceled", err)
	}
}

func TestFromOptions(t *testing.T) {
	d, err := synth.FromOptions(map[string]any{"signal": "constant", "value": 256})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 4)
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if got := audio.ExtractSample(p); got != 256 {
		t.Errorf("sample = %d, want 256", got)
	}

	if _, err := synth.FromOptions(map[string]any{"signal": "tone", "frequency": 200.0, "realtime": false}); err != nil {
		t.Errorf("tone options: %v", err)
	}
	if _, err := synth.FromOptions(map[string]any{"signal": "chirp"}); err == nil {
		t.Error("expected error for unknown signal")
	}
	if _, err := synth.FromOptions(nil); err != nil {
		t.Errorf("nil options: %v", err)
	}
}

func TestFromOptions_RealtimeByDefault(t *testing.T) {
	d, err := synth.FromOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Realtime() {
		t.Error("device built from empty options is not paced")
	}
	d, err = synth.FromOptions(map[string]any{"realtime": false})
	if err != nil {
		t.Fatal(err)
	}
	if d.Realtime() {
		t.Error("realtime: false was ignored")
	}
}

func TestFromOptions_RejectsOutOfRangeSignal(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]any
	}{
		{"constant above 24 bits", map[string]any{"signal": "constant", "value": synth.MaxAmplitude + 1}},
		{"constant below 24 bits", map[string]any{"signal": "constant", "value": -synth.MaxAmplitude - 1}},
		{"tone amplitude above full scale", map[string]any{"signal": "tone", "amplitude": 1.5}},
		{"negative tone amplitude", map[string]any{"signal": "tone", "amplitude": -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := synth.FromOptions(tt.opts); err == nil {
				t.Errorf("FromOptions(%v) succeeded, want range error", tt.opts)
			}
		})
	}

	d, err := synth.FromOptions(map[string]any{"signal": "constant", "value": -synth.MaxAmplitude, "realtime": false})
	if err != nil {
		t.Fatalf("full-scale constant: %v", err)
	}
	if err := d.Open(mono32); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 4)
	if err := d.Read(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if got := audio.ExtractSample(p); got != -synth.MaxAmplitude {
		t.Errorf("sample = %d, want %d", got, -synth.MaxAmplitude)
	}
}
