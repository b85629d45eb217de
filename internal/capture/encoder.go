package capture

import (
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/micpipe/pkg/audio"
)

// Encoder turns one PCM frame into one packet. Implementations are used from
// a single goroutine.
type Encoder interface {
	// Codec names the packet encoding (e.g., "pcm", "opus").
	Codec() string

	// Encode encodes one frame of 16-bit little-endian PCM. The returned slice
	// may alias internal buffers and is only valid until the next call.
	Encode(pcm []byte) ([]byte, error)
}

// PCMEncoder forwards raw PCM unchanged.
type PCMEncoder struct{}

var _ Encoder = PCMEncoder{}

// Codec implements [Encoder].
func (PCMEncoder) Codec() string { return "pcm" }

// Encode implements [Encoder].
func (PCMEncoder) Encode(pcm []byte) ([]byte, error) { return pcm, nil }

// maxOpusPacket bounds a single encoded Opus packet.
const maxOpusPacket = 4000

// OpusEncoder encodes fixed-size PCM frames with libopus in VoIP mode.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int // samples per channel
	channels  int
}

var _ Encoder = (*OpusEncoder)(nil)

// NewOpusEncoder creates an Opus encoder for frames of frameDuration at the
// given format. bitrate is in bits per second; zero keeps the libopus default.
func NewOpusEncoder(f audio.Format, frameDuration time.Duration, bitrate int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("capture: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &OpusEncoder{
		enc:       enc,
		frameSize: audio.SamplesPerFrame(f.SampleRate, frameDuration),
		channels:  f.Channels,
	}, nil
}

// Codec implements [Encoder].
func (e *OpusEncoder) Codec() string { return "opus" }

// Encode implements [Encoder]. pcm must hold exactly one frame.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	if want := e.frameSize * e.channels * 2; len(pcm) != want {
		return nil, fmt.Errorf("capture: opus encode: frame is %d bytes, want %d", len(pcm), want)
	}
	pkt, err := e.enc.Encode(audio.BytesToInt16s(pcm), e.frameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("capture: opus encode: %w", err)
	}
	return pkt, nil
}
