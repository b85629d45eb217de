package observe

import (
	"context"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio/afesrc"
)

// captureObserver records [afesrc.Source] pipeline events on [Metrics].
type captureObserver struct {
	m *Metrics
}

var _ afesrc.Observer = captureObserver{}

// NewCaptureObserver returns an [afesrc.Observer] that records pipeline
// events on m. Install it with [afesrc.WithObserver].
func NewCaptureObserver(m *Metrics) afesrc.Observer {
	return captureObserver{m: m}
}

func (o captureObserver) CaptureStarted() {
	o.m.ActiveCaptures.Add(context.Background(), 1)
}

func (o captureObserver) CaptureStopped() {
	o.m.ActiveCaptures.Add(context.Background(), -1)
}

func (o captureObserver) ChunkFed(gain float32) {
	ctx := context.Background()
	o.m.FeedChunks.Add(ctx, 1)
	o.m.LimiterGain.Record(ctx, float64(gain))
}

func (o captureObserver) DeviceReadError(error) {
	o.m.DeviceReadErrors.Add(context.Background(), 1)
}

func (o captureObserver) EngineFeedError(error) {
	o.m.EngineFeedErrors.Add(context.Background(), 1)
}

func (o captureObserver) EngineFetchError(error) {
	o.m.EngineFetchErrors.Add(context.Background(), 1)
}

func (o captureObserver) InvariantViolation(kind string) {
	o.m.RecordInvariantViolation(context.Background(), kind)
}

func (o captureObserver) FrameRead(wait time.Duration) {
	ctx := context.Background()
	o.m.FramesRead.Add(ctx, 1)
	o.m.ReadFrameDuration.Record(ctx, wait.Seconds())
}
