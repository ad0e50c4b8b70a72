// Package portaudio implements [audio.Platform] on top of PortAudio via
// github.com/gordonklaus/portaudio.
//
// Capture streams use the callback API: the callback copies the driver
// buffer into an [audio.AudioFrame] and performs a non-blocking send on a
// bounded channel, so it never stalls the audio thread. Playback streams use
// the blocking read/write API.
//
// Call [Platform.Close] once on shutdown to terminate PortAudio.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/mira/pkg/audio"
)

// defaultQueueSize buffers ~3 s of 30 ms frames.
const defaultQueueSize = 100

// Platform implements [audio.Platform] on PortAudio.
type Platform struct {
	closeOnce sync.Once
}

var _ audio.Platform = (*Platform)(nil)

// New initialises PortAudio.
func New() (*Platform, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Platform{}, nil
}

// Close terminates PortAudio. Open streams must be closed first.
func (p *Platform) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = pa.Terminate()
	})
	return err
}

// findDevice returns the named device, or the default device when name is empty.
func findDevice(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 || !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", name)
}

// ─── Input ────────────────────────────────────────────────────────────────────

type inputStream struct {
	stream     *pa.Stream
	frames     chan audio.AudioFrame
	sampleRate int
	position   atomic.Int64 // samples delivered so far
	overruns   atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// OpenInput implements [audio.Platform].
func (p *Platform) OpenInput(cfg audio.InputConfig) (audio.InputStream, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("portaudio: sample rate must be positive")
	}
	dev, err := findDevice(cfg.Device, true)
	if err != nil {
		return nil, fmt.Errorf("portaudio: input device: %w", err)
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}

	s := &inputStream{
		frames:     make(chan audio.AudioFrame, queue),
		sampleRate: cfg.SampleRate,
	}

	params := pa.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSamples()

	stream, err := pa.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}
	s.stream = stream
	slog.Debug("portaudio input opened", "device", dev.Name, "sample_rate", cfg.SampleRate, "frame_samples", params.FramesPerBuffer)
	return s, nil
}

// callback runs on the PortAudio thread. It must not block.
func (s *inputStream) callback(in []int16) {
	pcm := audio.SamplesToPCM(in)
	pos := s.position.Add(int64(len(in))) - int64(len(in))
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.sampleRate,
		Channels:   1,
		Timestamp:  time.Duration(pos) * time.Second / time.Duration(s.sampleRate),
		LevelDB:    audio.LoudnessDB(pcm),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.overruns.Add(1)
	}
}

func (s *inputStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *inputStream) Overruns() uint64 { return s.overruns.Load() }

func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Stop waits for the callback to return, so closing frames afterwards is safe.
	errStop := s.stream.Stop()
	errClose := s.stream.Close()
	close(s.frames)
	if n := s.overruns.Load(); n > 0 {
		slog.Warn("portaudio input dropped frames", "overruns", n)
	}
	return errors.Join(errStop, errClose)
}

// ─── Output ───────────────────────────────────────────────────────────────────

type outputStream struct {
	stream   *pa.Stream
	buf      []int16
	channels int
	aborted  atomic.Bool

	closeOnce sync.Once
}

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(cfg audio.OutputConfig) (audio.OutputStream, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 {
		return nil, errors.New("portaudio: sample rate and block size must be positive")
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	dev, err := findDevice(cfg.Device, false)
	if err != nil {
		return nil, fmt.Errorf("portaudio: output device: %w", err)
	}

	s := &outputStream{
		buf:      make([]int16, cfg.BlockSize*channels),
		channels: channels,
	}
	params := pa.HighLatencyParameters(nil, dev)
	params.Output.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BlockSize

	stream, err := pa.OpenStream(params, &s.buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Write copies pcm into the stream buffer, zero-padding a short final block.
func (s *outputStream) Write(pcm []byte) error {
	if s.aborted.Load() {
		return errors.New("portaudio: output aborted")
	}
	n := min(len(pcm)/audio.BytesPerSample, len(s.buf))
	for i := range n {
		s.buf[i] = audio.SampleAt(pcm, i)
	}
	clear(s.buf[n:])
	if err := s.stream.Write(); err != nil {
		if errors.Is(err, pa.OutputUnderflowed) {
			return nil
		}
		return fmt.Errorf("portaudio: write: %w", err)
	}
	return nil
}

func (s *outputStream) Abort() error {
	if s.aborted.Swap(true) {
		return nil
	}
	return s.stream.Abort()
}

func (s *outputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if !s.aborted.Load() {
			err = s.stream.Stop()
		}
		err = errors.Join(err, s.stream.Close())
	})
	return err
}
