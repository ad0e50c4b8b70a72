package audio

import (
	"encoding/binary"
	"time"
)

// SampleAt reads the i-th int16 sample from little-endian PCM.
func SampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

// SamplesToPCM encodes int16 samples as little-endian PCM.
func SamplesToPCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(s))
	}
	return buf
}

// PCMToSamples decodes little-endian PCM into int16 samples. A trailing odd
// byte is ignored.
func PCMToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = SampleAt(pcm, i)
	}
	return out
}

// FloatToSample converts a [-1, 1] amplitude to int16, clamping out-of-range
// values.
func FloatToSample(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}

// Silence returns d worth of zeroed PCM in format f.
func Silence(f Format, d time.Duration) []byte {
	if d <= 0 {
		return nil
	}
	return make([]byte, f.FrameBytes(d))
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		lo, hi := pcm[i*2], pcm[i*2+1]
		out[i*4], out[i*4+1] = lo, hi
		out[i*4+2], out[i*4+3] = lo, hi
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		l := int32(SampleAt(pcm, i*2))
		r := int32(SampleAt(pcm, i*2+1))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ConvertChannels converts interleaved PCM between mono and stereo. Other
// combinations return the input unchanged.
func ConvertChannels(pcm []byte, from, to int) []byte {
	switch {
	case from == to:
		return pcm
	case from == 1 && to == 2:
		return MonoToStereo(pcm)
	case from == 2 && to == 1:
		return StereoToMono(pcm)
	}
	return pcm
}
