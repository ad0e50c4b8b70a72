// Package mock provides in-memory implementations of [audio.Platform],
// [audio.InputStream] and [audio.OutputStream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control behaviour.
//
// Typical usage:
//
//	p := &mock.Platform{
//	    InputScripts: [][]audio.AudioFrame{
//	        mock.Frames(48000, 10, 8000), // 300 ms of loud audio
//	    },
//	}
//	in, _ := p.OpenInput(audio.InputConfig{SampleRate: 48000})
//	for f := range in.Frames() { ... }
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
)

// ErrAborted is returned by [OutputStream.Write] when the stream was aborted
// while the write was in flight.
var ErrAborted = errors.New("mock: output aborted")

// Frame builds one frame of d duration whose samples alternate between +amp
// and -amp. LevelDB is filled in.
func Frame(sampleRate int, d time.Duration, amp int16) audio.AudioFrame {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	pcm := audio.SamplesToPCM(s)
	return audio.AudioFrame{
		Data:       pcm,
		SampleRate: sampleRate,
		Channels:   1,
		LevelDB:    audio.LoudnessDB(pcm),
	}
}

// Frames returns n consecutive 30 ms frames at the given amplitude with
// increasing timestamps.
func Frames(sampleRate, n int, amp int16) []audio.AudioFrame {
	out := make([]audio.AudioFrame, n)
	for i := range out {
		out[i] = Frame(sampleRate, audio.DefaultFrameDuration, amp)
		out[i].Timestamp = time.Duration(i) * audio.DefaultFrameDuration
	}
	return out
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] pre-loaded with frames.
type InputStream struct {
	ch       chan audio.AudioFrame
	keepOpen bool

	mu         sync.Mutex
	closed     bool
	closeCount int

	// OverrunCount is returned by Overruns.
	OverrunCount uint64
}

// NewInputStream returns a stream that delivers frames in order. When
// keepOpen is false the frame channel is closed after the last frame, which
// simulates a device failure; otherwise it stays open until Close.
func NewInputStream(frames []audio.AudioFrame, keepOpen bool) *InputStream {
	ch := make(chan audio.AudioFrame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	s := &InputStream{ch: ch, keepOpen: keepOpen}
	if !keepOpen {
		close(ch)
		s.closed = true
	}
	return s
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan audio.AudioFrame { return s.ch }

// Overruns implements [audio.InputStream].
func (s *InputStream) Overruns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OverrunCount
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// CloseCount reports how many times Close was called.
func (s *InputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a mock [audio.OutputStream] that records written blocks.
type OutputStream struct {
	mu sync.Mutex

	// WriteDelay makes each Write block for this long (or until Abort),
	// simulating real-time playback.
	WriteDelay time.Duration

	// WriteErr, when non-nil, is returned by every Write.
	WriteErr error

	// Blocks holds a copy of every successfully written block.
	Blocks [][]byte

	// AbortCount and CloseCount record lifecycle calls.
	AbortCount int
	CloseCount int

	aborted chan struct{}
	once    sync.Once
}

func (s *OutputStream) abortCh() chan struct{} {
	s.once.Do(func() { s.aborted = make(chan struct{}) })
	return s.aborted
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(pcm []byte) error {
	s.mu.Lock()
	delay, werr := s.WriteDelay, s.WriteErr
	s.mu.Unlock()
	if werr != nil {
		return werr
	}
	abort := s.abortCh()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-abort:
			return ErrAborted
		}
	} else {
		select {
		case <-abort:
			return ErrAborted
		default:
		}
	}
	s.mu.Lock()
	s.Blocks = append(s.Blocks, append([]byte(nil), pcm...))
	s.mu.Unlock()
	return nil
}

// Abort implements [audio.OutputStream].
func (s *OutputStream) Abort() error {
	abort := s.abortCh()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AbortCount == 0 {
		close(abort)
	}
	s.AbortCount++
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// BlockCount returns the number of blocks written so far.
func (s *OutputStream) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Blocks)
}

// Aborts returns AbortCount under the lock.
func (s *OutputStream) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AbortCount
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// InputScripts are consumed in order, one per OpenInput call. Each script
	// becomes a stream that stays open after its last frame.
	InputScripts [][]audio.AudioFrame

	// DefaultInput is replayed for every OpenInput call after InputScripts
	// is exhausted. A nil DefaultInput yields a stream with no frames that
	// stays open until closed.
	DefaultInput []audio.AudioFrame

	// InputErr and OutputErr are returned by OpenInput / OpenOutput.
	InputErr  error
	OutputErr error

	// OutputWriteDelay is copied into every opened OutputStream.
	OutputWriteDelay time.Duration

	// InputConfigs and OutputConfigs record the arguments of each call.
	InputConfigs  []audio.InputConfig
	OutputConfigs []audio.OutputConfig

	// Inputs and Outputs hold every stream handed out, in order.
	Inputs  []*InputStream
	Outputs []*OutputStream
}

var _ audio.Platform = (*Platform)(nil)

// OpenInput implements [audio.Platform].
func (p *Platform) OpenInput(cfg audio.InputConfig) (audio.InputStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InputConfigs = append(p.InputConfigs, cfg)
	if p.InputErr != nil {
		return nil, p.InputErr
	}
	var frames []audio.AudioFrame
	if len(p.InputScripts) > 0 {
		frames = p.InputScripts[0]
		p.InputScripts = p.InputScripts[1:]
	} else {
		frames = p.DefaultInput
	}
	s := NewInputStream(frames, true)
	p.Inputs = append(p.Inputs, s)
	return s, nil
}

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(cfg audio.OutputConfig) (audio.OutputStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OutputConfigs = append(p.OutputConfigs, cfg)
	if p.OutputErr != nil {
		return nil, p.OutputErr
	}
	s := &OutputStream{WriteDelay: p.OutputWriteDelay}
	p.Outputs = append(p.Outputs, s)
	return s, nil
}

// InputCount returns the number of successful OpenInput calls.
func (p *Platform) InputCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Inputs)
}

// InputAttempts returns the number of OpenInput calls, including failed ones.
func (p *Platform) InputAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.InputConfigs)
}

// OutputStreams returns a snapshot of the opened output streams.
func (p *Platform) OutputStreams() []*OutputStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*OutputStream(nil), p.Outputs...)
}

// SetInputScripts replaces the pending input scripts.
func (p *Platform) SetInputScripts(scripts ...[]audio.AudioFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InputScripts = scripts
}
