package audio

import (
	"fmt"
	"time"
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit handed from a [Source] to the capture session:
// the caller pre-sizes Data and the source fills it in place.
type AudioFrame struct {
	// PCM audio data, little-endian signed 16-bit interleaved samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the voice front end).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Timestamp is the presentation time of the first sample, relative to the
	// start of the capture session.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Codec identifies the encoding of frames produced by a [Source].
type Codec int

const (
	// CodecNone is the zero value and never negotiable.
	CodecNone Codec = iota

	// CodecPCM is raw signed little-endian PCM.
	CodecPCM

	// CodecOpus is an Opus bitstream.
	CodecOpus
)

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecPCM:
		return "PCM"
	case CodecOpus:
		return "OPUS"
	default:
		return "NONE"
	}
}

// Caps is the audio format a capture session requests from a [Source] and the
// source confirms during negotiation.
type Caps struct {
	Codec         Codec
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Format returns the sample rate and channel count portion of c.
func (c Caps) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// FrameBytes returns the byte size of d worth of audio in format c. It returns
// 0 for caps with no sample rate or bit depth.
func (c Caps) FrameBytes(d time.Duration) int {
	return SamplesPerFrame(c.SampleRate, d) * c.Channels * c.BitsPerSample / 8
}

// String returns a compact description such as "PCM 16000Hz mono 16bit".
func (c Caps) String() string {
	return fmt.Sprintf("%s %s %dbit", c.Codec, formatString(c.SampleRate, c.Channels), c.BitsPerSample)
}

// SamplesPerFrame returns the number of samples per channel in d of audio at
// sampleRate. The rate is truncated to whole kHz first, matching how the codec
// front end sizes its hops (16000 Hz, 10 ms → 160).
func SamplesPerFrame(sampleRate int, d time.Duration) int {
	return (sampleRate / 1000) * int(d/time.Millisecond)
}
