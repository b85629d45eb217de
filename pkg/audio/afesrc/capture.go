package afesrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
	"github.com/MrWong99/micpipe/pkg/audio/afe"
	"github.com/MrWong99/micpipe/pkg/audio/device"
	"github.com/MrWong99/micpipe/pkg/audio/limiter"
	"github.com/MrWong99/micpipe/pkg/audio/ringbuf"
)

// capture owns everything one Start…Stop run allocates.
type capture struct {
	src *Source
	dev device.Device
	rb  *ringbuf.Buffer
	lim *limiter.Limiter

	caps      audio.Caps
	frameLen  int // samples per channel in one ring-buffer slot
	frameSize int // bytes in one ring-buffer slot

	feedCancel  context.CancelFunc
	fetchCancel context.CancelFunc
	feedDone    chan struct{}
	fetchDone   chan struct{}

	frameNum atomic.Int64
}

// feedLoop moves audio from the device into the engine until ctx is
// cancelled or the engine rejects input.
func (c *capture) feedLoop(ctx context.Context) {
	defer close(c.feedDone)
	if c.src.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	eng, obs := c.src.eng, c.src.obs
	chunk := eng.FeedChunkSize()
	nch := eng.TotalChannels()
	samples := chunk * nch

	// raw holds one chunk of 32-bit containers. pcm is a view of its lower
	// half: sample i is written to pcm[2i:2i+2] only after container i has
	// been decoded into conv, so the two views never overlap unread data.
	raw := make([]byte, samples*audio.ContainerBytes)
	pcm := raw[:samples*2]
	conv := make([]float32, samples)

	slog.Debug("afesrc: feed task start", "task", "afe_feed",
		"feed_chunksize", chunk, "feed_nch", nch, "priority", c.src.priority)

	failures := 0
	for ctx.Err() == nil {
		if err := c.dev.Read(ctx, raw); err != nil {
			if ctx.Err() != nil {
				break
			}
			// Transient: retry without feeding stale data.
			failures++
			obs.DeviceReadError(err)
			if failures%readWarnEvery == 1 {
				slog.Warn("afesrc: failed to read capture device", "err", err, "consecutive", failures)
			}
			continue
		}
		failures = 0

		audio.ContainersToFloat(raw, conv)
		c.lim.ProcessBuffer(conv)
		audio.FloatToPCM16(conv, pcm)

		if err := eng.Feed(ctx, pcm); err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("afesrc: failed to feed engine", "task", "afe_feed", "err", err)
			obs.EngineFeedError(err)
			c.fail(err)
			break
		}
		obs.ChunkFed(c.lim.Gain())
	}
	slog.Debug("afesrc: feed task stopped", "task", "afe_feed")
}

// fetchLoop moves processed audio from the engine into the ring buffer, one
// frame per slot, until ctx is cancelled.
func (c *capture) fetchLoop(ctx context.Context) {
	defer close(c.fetchDone)
	if c.src.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	eng, obs := c.src.eng, c.src.obs
	slog.Debug("afesrc: fetch task start", "task", "afe_fetch",
		"fetch_chunksize", eng.FetchChunkSize(), "priority", c.src.priority)
	defer slog.Debug("afesrc: fetch task stopped", "task", "afe_fetch")

	for ctx.Err() == nil {
		res, err := eng.Fetch(ctx)
		if err != nil || res == nil {
			if ctx.Err() != nil || errors.Is(err, afe.ErrDestroyed) {
				return
			}
			if err == nil {
				err = afe.ErrFetchFailed
			}
			obs.EngineFetchError(err)
			slog.Debug("afesrc: engine fetch failed", "task", "afe_fetch", "err", err)
			continue
		}

		if len(res.Data)%c.frameSize != 0 {
			slog.Error("afesrc: fetched block is not a whole number of frames, dropping",
				"data_size", len(res.Data), "audio_frame_sz", c.frameSize)
			obs.InvariantViolation("fetch_size")
			continue
		}
		for off := 0; off < len(res.Data); off += c.frameSize {
			if _, err := c.rb.Write(ctx, res.Data[off:off+c.frameSize]); err != nil {
				// Cancelled by Stop, or the ring buffer was closed after a
				// feed failure.
				return
			}
		}
	}
}

// fail records a fatal feed error and closes the ring buffer so a blocked
// reader wakes once the queued frames are drained.
func (c *capture) fail(err error) {
	c.src.fatal.CompareAndSwap(nil, &err)
	c.rb.Close()
}

func (c *capture) readFrame(ctx context.Context, frame *audio.AudioFrame) error {
	size := len(frame.Data)
	if size == 0 || size%c.frameSize != 0 {
		c.src.obs.InvariantViolation("read_size")
		return fmt.Errorf("afesrc: read frame: %d bytes is not a multiple of the %d-byte frame: %w",
			size, c.frameSize, audio.ErrInternal)
	}

	start := time.Now()
	samples := size / (2 * c.caps.Channels)
	slots := samples / c.frameLen
	total := 0
	for i := range slots {
		n, err := c.rb.Read(ctx, frame.Data[i*c.frameSize:(i+1)*c.frameSize])
		if err != nil {
			return c.readError(err)
		}
		total += n
	}
	if total != size {
		slog.Error("afesrc: short read from engine", "read", total, "want", size)
		c.src.obs.InvariantViolation("read_size")
		return fmt.Errorf("afesrc: read frame: got %d of %d bytes: %w", total, size, audio.ErrInternal)
	}

	n := c.frameNum.Add(1) - 1
	ptsMs := n * int64(samples) * 1000 / int64(c.caps.SampleRate)
	frame.Timestamp = time.Duration(ptsMs) * time.Millisecond
	frame.SampleRate = c.caps.SampleRate
	frame.Channels = c.caps.Channels
	c.src.obs.FrameRead(time.Since(start))
	return nil
}

func (c *capture) readError(err error) error {
	if !errors.Is(err, ringbuf.ErrClosed) {
		return fmt.Errorf("afesrc: read frame: %w", err)
	}
	if p := c.src.fatal.Load(); p != nil {
		return fmt.Errorf("afesrc: read frame: feed stopped: %w: %w", audio.ErrInternal, *p)
	}
	return fmt.Errorf("afesrc: read frame: source stopped: %w", audio.ErrNotSupported)
}
