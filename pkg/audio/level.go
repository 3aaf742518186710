package audio

import "encoding/binary"

// MaxLevel is the upper bound of [Level].
const MaxLevel = 128

// Level returns the loudness of a PCM16 chunk on a 0–128 scale: the mean
// absolute sample value divided by 256. This matches the byte-scale levels
// a browser AnalyserNode reports (mean deviation of 8-bit samples from
// 128), so server-metered and client-reported levels share thresholds.
// Returns 0 for chunks shorter than one sample.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < n; i++ {
		s := int64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	level := float64(sum) / float64(n) / 256
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}
