// Package audio defines the device abstractions and PCM helpers used by the
// Mira voice front-end.
//
// The two primary abstractions are:
//
//   - [InputStream] delivers fixed-size [AudioFrame] values captured from the
//     microphone over a bounded channel.
//   - [OutputStream] accepts PCM blocks for blocking playback on the speaker
//     and supports immediate abort.
//
// A [Platform] opens both kinds of stream. Implementations live in adapter
// packages (audio/portaudio for real hardware, audio/mock for tests).
package audio

import "time"

// DefaultFrameDuration is the capture frame length used throughout the
// pipeline. The VAD accepts 10, 20 or 30 ms frames.
const DefaultFrameDuration = 30 * time.Millisecond

// InputConfig configures a capture stream.
type InputConfig struct {
	// Device selects an input device by name. Empty means the system default.
	Device string

	// SampleRate in Hz (e.g., 48000).
	SampleRate int

	// FrameDuration is the length of each delivered frame. Defaults to
	// [DefaultFrameDuration].
	FrameDuration time.Duration

	// QueueSize bounds the number of frames buffered between the driver
	// callback and the consumer. When the queue is full new frames are
	// dropped and counted as overruns.
	QueueSize int
}

// FrameSamples returns the number of samples per delivered frame.
func (c InputConfig) FrameSamples() int {
	d := c.FrameDuration
	if d <= 0 {
		d = DefaultFrameDuration
	}
	return int(int64(c.SampleRate) * int64(d) / int64(time.Second))
}

// OutputConfig configures a playback stream.
type OutputConfig struct {
	// Device selects an output device by name. Empty means the system default.
	Device string

	// SampleRate in Hz.
	SampleRate int

	// Channels is the output channel count (1 or 2).
	Channels int

	// BlockSize is the number of sample frames per Write.
	BlockSize int
}

// InputStream is an open capture stream.
//
// Implementations deliver frames from the driver callback without blocking:
// frames that do not fit into the bounded queue are dropped.
type InputStream interface {
	// Frames returns the channel of captured frames. It is closed when the
	// stream is closed or the device fails.
	Frames() <-chan AudioFrame

	// Overruns reports how many frames were dropped because the consumer
	// fell behind.
	Overruns() uint64

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// OutputStream is an open playback stream.
type OutputStream interface {
	// Write plays one block of interleaved int16 PCM, blocking until the
	// device has accepted it.
	Write(pcm []byte) error

	// Abort halts output immediately, discarding queued samples. A blocked
	// Write returns promptly after Abort.
	Abort() error

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Platform opens input and output streams on physical (or simulated) devices.
//
// Implementations must be safe for concurrent use; the listener and the
// playback controller each open their own streams.
type Platform interface {
	OpenInput(cfg InputConfig) (InputStream, error)
	OpenOutput(cfg OutputConfig) (OutputStream, error)
}
