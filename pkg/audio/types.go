package audio

import "time"

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// AudioFrame is one fixed-duration slice of captured audio. Input streams
// produce 30 ms mono frames; the segmenter owns a frame for one decision step.
type AudioFrame struct {
	// Data holds little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for microphone capture.
	Channels int

	// Timestamp is the capture position relative to stream start.
	Timestamp time.Duration

	// LevelDB is the frame loudness as computed by [LoudnessDB]. Input streams
	// fill it in before delivering the frame.
	LevelDB float64
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / (BytesPerSample * ch)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the byte length of d worth of PCM in this format.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return samples * ch * BytesPerSample
}
