package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Packet is one encoded frame delivered to a [Sink].
type Packet struct {
	// Codec names the encoding, as reported by [Encoder.Codec].
	Codec string

	// Data is the encoded payload. It is only valid for the duration of the
	// WritePacket call.
	Data []byte

	// Timestamp is the presentation time of the frame's first sample.
	Timestamp time.Duration

	// Duration is the audio covered by the packet.
	Duration time.Duration
}

// Sink consumes encoded packets.
type Sink interface {
	WritePacket(ctx context.Context, p Packet) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, p Packet) error

// WritePacket implements [Sink].
func (f SinkFunc) WritePacket(ctx context.Context, p Packet) error { return f(ctx, p) }

// WriterSink writes packets to an io.Writer. Raw PCM is written back to back;
// every other codec is framed with a 2-byte big-endian length prefix so the
// stream can be split into packets again.
type WriterSink struct {
	w io.Writer
}

var _ Sink = (*WriterSink)(nil)

// NewWriterSink returns a [WriterSink] writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WritePacket implements [Sink].
func (s *WriterSink) WritePacket(_ context.Context, p Packet) error {
	if p.Codec != "pcm" {
		if len(p.Data) > 0xFFFF {
			return fmt.Errorf("capture: %s packet of %d bytes exceeds the length prefix", p.Codec, len(p.Data))
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(p.Data)))
		if _, err := s.w.Write(hdr[:]); err != nil {
			return fmt.Errorf("capture: write packet header: %w", err)
		}
	}
	if _, err := s.w.Write(p.Data); err != nil {
		return fmt.Errorf("capture: write packet: %w", err)
	}
	return nil
}

// ReadPacket reads one length-prefixed packet written by [WriterSink] into
// buf, growing it if needed, and returns the payload.
func ReadPacket(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("capture: read packet: %w", err)
	}
	return buf, nil
}
