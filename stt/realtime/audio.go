package realtime

import (
	"encoding/base64"
	"encoding/binary"
)

// SampleRate is the pcm16 rate the service expects for input audio.
const SampleRate = 24000

// Resample converts mono pcm16 from one rate to another by linear
// interpolation. Chunks are resampled independently.
func Resample(in []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// encodePCM16 returns samples as base64 little-endian pcm16.
func encodePCM16(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
