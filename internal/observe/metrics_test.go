package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total of all data points of an int64 sum metric.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCaptureObserver_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewCaptureObserver(m)

	obs.CaptureStarted()
	for range 3 {
		obs.ChunkFed(1)
	}
	obs.DeviceReadError(errors.New("i2s"))
	obs.DeviceReadError(errors.New("i2s"))
	obs.EngineFeedError(errors.New("feed"))
	obs.EngineFetchError(errors.New("fetch"))
	obs.FrameRead(2 * time.Millisecond)
	obs.FrameRead(3 * time.Millisecond)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"micpipe.active_captures", 1},
		{"micpipe.feed.chunks", 3},
		{"micpipe.device.read_errors", 2},
		{"micpipe.engine.feed_errors", 1},
		{"micpipe.engine.fetch_errors", 1},
		{"micpipe.frames.read", 2},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumValue(t, rm, tc.name); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCaptureObserver_ActiveCapturesReturnsToZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewCaptureObserver(m)

	obs.CaptureStarted()
	obs.CaptureStopped()
	obs.CaptureStarted()
	obs.CaptureStopped()

	if got := sumValue(t, collect(t, reader), "micpipe.active_captures"); got != 0 {
		t.Errorf("active captures = %d, want 0", got)
	}
}

func TestCaptureObserver_ReadFrameDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewCaptureObserver(m)

	obs.FrameRead(5 * time.Millisecond)
	obs.FrameRead(15 * time.Millisecond)

	met := findMetric(collect(t, reader), "micpipe.read_frame.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if dp.Sum < 0.0199 || dp.Sum > 0.0201 {
		t.Errorf("sum = %v, want 0.02", dp.Sum)
	}
}

func TestCaptureObserver_LimiterGain(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewCaptureObserver(m)

	obs.ChunkFed(1)
	obs.ChunkFed(0.25)

	met := findMetric(collect(t, reader), "micpipe.limiter.gain")
	if met == nil {
		t.Fatal("metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[float64])
	if !ok {
		t.Fatal("metric is not a gauge")
	}
	if len(g.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(g.DataPoints))
	}
	if got := g.DataPoints[0].Value; got != 0.25 {
		t.Errorf("gain = %v, want last recorded 0.25", got)
	}
}

func TestInvariantViolations_ByKind(t *testing.T) {
	m, reader := newTestMetrics(t)
	obs := NewCaptureObserver(m)

	obs.InvariantViolation("fetch_size")
	obs.InvariantViolation("fetch_size")
	obs.InvariantViolation("read_size")

	met := findMetric(collect(t, reader), "micpipe.invariant.violations")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("kind")
		got[v.AsString()] = dp.Value
	}
	if got["fetch_size"] != 2 || got["read_size"] != 1 {
		t.Errorf("violations by kind = %v, want fetch_size=2 read_size=1", got)
	}
}

func TestEncoderPackets_ByCodec(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEncoderPacket(ctx, "opus")
	m.RecordEncoderPacket(ctx, "opus")
	m.RecordEncoderPacket(ctx, "pcm")

	met := findMetric(collect(t, reader), "micpipe.encoder.packets")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	for _, dp := range sum.DataPoints {
		if v, _ := dp.Attributes.Value("codec"); v.AsString() == "opus" {
			if dp.Value != 2 {
				t.Errorf("opus packets = %d, want 2", dp.Value)
			}
			return
		}
	}
	t.Error("data point with codec=opus not found")
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
