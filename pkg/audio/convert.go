package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// ContainerBytes is the width of one hardware sample container. The codec
	// is always opened at 32 bits per sample.
	ContainerBytes = 4

	// significantBytes is the number of meaningful bytes in a container: the
	// codec delivers 24-bit PCM left-justified in 32 bits.
	significantBytes = 3

	// hwScale maps a sign-extended 24-bit value onto [-1, 1): first down to the
	// 16-bit range (÷256), then to unit range (÷2^15).
	hwScale = (1.0 / 256) / (1 << 15)

	// pcm16Scale maps unit-range floats back onto the int16 range.
	pcm16Scale = 1 << 15
)

// SignExtend decodes the first width bytes of b as a little-endian signed
// integer, sign-extending from the high bit of the most significant byte.
// width must be between 1 and 4.
func SignExtend(b []byte, width int) int32 {
	var val int32
	if b[width-1]&0x80 != 0 {
		val = -1
	}
	for i := width - 1; i >= 0; i-- {
		val = val<<8 | int32(b[i])
	}
	return val
}

// ExtractSample reads the 24 significant bits of a single 32-bit little-endian
// hardware container. The low byte is padding and is skipped.
func ExtractSample(container []byte) int32 {
	return SignExtend(container[1:], significantBytes)
}

// ContainersToFloat decodes every 32-bit container in src into dst, scaled to
// the limiter's unit-range domain. It returns the number of samples written,
// which is min(len(src)/ContainerBytes, len(dst)).
func ContainersToFloat(src []byte, dst []float32) int {
	n := min(len(src)/ContainerBytes, len(dst))
	for i := range n {
		v := ExtractSample(src[i*ContainerBytes:])
		dst[i] = float32(float64(v) * hwScale)
	}
	return n
}

// FloatToPCM16 rescales unit-range samples to signed 16-bit PCM, truncating
// toward zero, and writes them little-endian into dst. Values outside the
// int16 range are clamped. It returns the number of bytes written.
//
// dst may alias the container buffer src was decoded from: sample i is written
// to bytes [2i, 2i+2), which the caller has already consumed into floats.
func FloatToPCM16(src []float32, dst []byte) int {
	n := min(len(src), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(ToInt16(src[i])))
	}
	return n * 2
}

// ToInt16 converts one unit-range sample to int16 with truncation and clamping.
func ToInt16(f float32) int16 {
	v := math.Trunc(float64(f) * pcm16Scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// PutContainer encodes a signed 24-bit value into a 32-bit little-endian
// container the way the codec delivers it (value in the top three bytes).
// Synthetic devices use it to produce hardware-shaped data.
func PutContainer(dst []byte, v int32) {
	binary.LittleEndian.PutUint32(dst, uint32(v)<<8)
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
