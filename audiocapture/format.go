package audiocapture

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// SampleFormat tags the encoding of one PCM sample.
type SampleFormat int

const (
	Int16 SampleFormat = iota + 1
	Int32
	Float32
	Uint8
)

var sampleFormatNames = map[SampleFormat]string{
	Int16:   "int16",
	Int32:   "int32",
	Float32: "float32",
	Uint8:   "uint8",
}

func (f SampleFormat) String() string {
	if name, ok := sampleFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// ParseSampleFormat parses a format name such as "int16".
func ParseSampleFormat(name string) (SampleFormat, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for f, s := range sampleFormatNames {
		if s == n {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unsupported sample format %q", name)
}

// BitDepth returns the number of bits per sample.
func (f SampleFormat) BitDepth() int {
	switch f {
	case Int16:
		return 16
	case Int32, Float32:
		return 32
	case Uint8:
		return 8
	default:
		return 0
	}
}

// BytesPerSample returns the size of one sample in bytes.
func (f SampleFormat) BytesPerSample() int {
	return f.BitDepth() / 8
}

// Format describes an interleaved PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	Sample     SampleFormat
}

// DefaultFormat is 16 kHz mono int16.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, Sample: Int16}
}

// Validate checks that the format can be captured and encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if f.Sample.BitDepth() == 0 {
		return fmt.Errorf("invalid sample format %v", f.Sample)
	}
	return nil
}

// FrameBytes returns the size of one frame (one sample per channel).
func (f Format) FrameBytes() int {
	return f.Channels * f.Sample.BytesPerSample()
}

// Frames returns the number of whole frames in n bytes.
func (f Format) Frames(n int) int {
	fb := f.FrameBytes()
	if fb == 0 {
		return 0
	}
	return n / fb
}

// ─────────────────────────────────────────────────────────────────────────────
// Sample conversion
// ─────────────────────────────────────────────────────────────────────────────

// decodeSamples reads little-endian samples into ints in the container's
// integer domain. Float32 samples are returned as their IEEE bit patterns,
// uint8 samples as their raw unsigned value.
func decodeSamples(data []byte, f SampleFormat) []int {
	size := f.BytesPerSample()
	if size == 0 {
		return nil
	}
	out := make([]int, len(data)/size)
	for i := range out {
		b := data[i*size:]
		switch f {
		case Int16:
			out[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case Int32, Float32:
			out[i] = int(int32(binary.LittleEndian.Uint32(b)))
		case Uint8:
			out[i] = int(b[0])
		}
	}
	return out
}

// encodeSamples is the inverse of decodeSamples.
func encodeSamples(samples []int, f SampleFormat) []byte {
	size := f.BytesPerSample()
	out := make([]byte, len(samples)*size)
	for i, v := range samples {
		b := out[i*size:]
		switch f {
		case Int16:
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		case Int32, Float32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case Uint8:
			b[0] = byte(v)
		}
	}
	return out
}

// normalized returns sample i of data scaled to [-1, 1] by the format's
// full-scale value.
func normalized(data []byte, f SampleFormat, i int) float64 {
	switch f {
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(data[i*4:]))) / 2147483648
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	case Uint8:
		return (float64(data[i]) - 128) / 128
	default:
		return 0
	}
}

// ToPCM16Mono converts interleaved PCM in format f to mono signed 16-bit
// samples by averaging channels.
func ToPCM16Mono(data []byte, f Format) []int16 {
	if f.FrameBytes() == 0 {
		return nil
	}
	frames := f.Frames(len(data))
	out := make([]int16, frames)
	for i := range out {
		var sum float64
		for ch := 0; ch < f.Channels; ch++ {
			sum += normalized(data, f.Sample, i*f.Channels+ch)
		}
		v := sum / float64(f.Channels)
		if math.IsNaN(v) {
			v = 0
		}
		out[i] = int16(math.Max(-32768, math.Min(32767, math.Round(v*32768))))
	}
	return out
}
