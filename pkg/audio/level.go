package audio

import "math"

// DefaultFloorDB is the level reported as silence by [Level].
const DefaultFloorDB = -50.0

// RMS returns the root-mean-square amplitude of int16 PCM, normalised to
// [0, 1] against full scale. Interleaved channels are pooled.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i)) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Level maps the RMS of pcm onto a perceptual [0, 1] scale: floorDB dBFS and
// below is 0, full scale is 1, linear in decibels in between.
func Level(pcm []byte, floorDB float64) float64 {
	if floorDB >= 0 {
		floorDB = DefaultFloorDB
	}
	rms := RMS(pcm)
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	v := (db - floorDB) / -floorDB
	return math.Max(0, math.Min(1, v))
}
