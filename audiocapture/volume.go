package audiocapture

import "math"

// Volume returns the RMS amplitude of a chunk normalized by the format's
// full-scale value and clamped to [0, 1]. Non-finite or negative
// intermediate values yield 0.
func Volume(data []byte, f SampleFormat) float64 {
	size := f.BytesPerSample()
	if size == 0 || len(data) < size {
		return 0
	}

	n := len(data) / size
	var sum float64
	for i := 0; i < n; i++ {
		s := normalized(data, f, i)
		sum += s * s
	}

	mean := sum / float64(n)
	if math.IsNaN(mean) || math.IsInf(mean, 0) || mean < 0 {
		return 0
	}
	rms := math.Sqrt(mean)
	if rms > 1 {
		return 1
	}
	return rms
}
