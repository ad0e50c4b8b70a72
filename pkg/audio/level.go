package audio

import (
	"encoding/binary"
	"math"
)

// levelEpsilon keeps the log argument positive for digital silence.
const levelEpsilon = 1e-10

// SilenceDB is the loudness reported for an all-zero or empty frame.
var SilenceDB = 20 * math.Log10(levelEpsilon)

// LoudnessDB returns 20*log10(rms + ε) of little-endian int16 PCM, with
// samples normalised to [-1, 1]. The result is always finite.
func LoudnessDB(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return SilenceDB
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	return 20 * math.Log10(rms+levelEpsilon)
}
