// Package playback owns the output device. A [Controller] plays one source
// at a time: a new Play cancels the current session and waits for it to
// wind down before touching the device, so the superseded session's stop
// notification always precedes the new session's start notification.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/pkg/audio"
)

// Defaults.
const (
	DefaultBlockSize  = 1024
	DefaultTempPrefix = "tts_"
)

// Outcome says how a playback session ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeStopped    Outcome = "stopped"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeFailed     Outcome = "failed"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("playback: controller closed")

// Option configures a Controller.
type Option func(*Controller)

// WithHandler registers the lifecycle handler. Use [Handlers] to fan out.
func WithHandler(h Handler) Option {
	return func(c *Controller) { c.handler = h }
}

// WithTempDir sets the directory whose files count as temporary.
func WithTempDir(dir string) Option {
	return func(c *Controller) { c.tempDir = dir }
}

// WithTempPrefix sets the file name prefix that marks temporary files.
func WithTempPrefix(prefix string) Option {
	return func(c *Controller) { c.tempPrefix = prefix }
}

// WithMetrics records session outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller serialises playback on a single output device.
type Controller struct {
	platform   audio.Platform
	out        audio.OutputConfig
	handler    Handler
	tempDir    string
	tempPrefix string
	metrics    *observe.Metrics

	mu       sync.Mutex
	cur      *session
	nextID   uint64
	idle     chan struct{} // closed while nothing is playing
	closed   bool
	speaking atomic.Bool

	workers sync.WaitGroup
	deletes sync.WaitGroup
}

type session struct {
	id         uint64
	src        Source
	cancel     context.CancelFunc
	done       chan struct{}
	superseded atomic.Bool
}

// NewController returns a Controller writing to platform with out.
func NewController(platform audio.Platform, out audio.OutputConfig, opts ...Option) *Controller {
	if out.BlockSize <= 0 {
		out.BlockSize = DefaultBlockSize
	}
	if out.Channels <= 0 {
		out.Channels = 1
	}
	c := &Controller{
		platform:   platform,
		out:        out,
		handler:    Handlers(nil),
		tempDir:    os.TempDir(),
		tempPrefix: DefaultTempPrefix,
		idle:       make(chan struct{}),
	}
	close(c.idle)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Play starts src and returns its session ID without waiting for audio. Any
// current session is cancelled first.
func (c *Controller) Play(src Source) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if c.isTemp(src) {
			c.scheduleDelete(src.Path)
		}
		return 0, ErrClosed
	}
	prev := c.cur
	if prev != nil {
		prev.superseded.Store(true)
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.nextID++
	s := &session{id: c.nextID, src: src, cancel: cancel, done: make(chan struct{})}
	c.cur = s
	if !c.speaking.Swap(true) {
		c.idle = make(chan struct{})
	}
	c.workers.Add(1)
	c.mu.Unlock()

	go c.run(ctx, s, prev)
	return s.id, nil
}

// Stop cancels the active session; its worker emits the stop notification.
// With nothing playing a single stop notification is emitted directly.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		c.handler.OnAudioStop()
		return
	}
	s.cancel()
}

// StopSession cancels session id if it is still the active one. It reports
// whether anything was cancelled.
func (c *Controller) StopSession(id uint64) bool {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil || s.id != id {
		return false
	}
	s.cancel()
	return true
}

// IsSpeaking reports whether a session is active. For audible sessions that
// is the span between the start and stop notifications. Quiet sessions count
// as speaking too, so stop words and foreground gating cover the cue, but
// they send no notifications.
func (c *Controller) IsSpeaking() bool {
	return c.speaking.Load()
}

// WaitIdle blocks until no session is active or ctx is done.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.cur == nil {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops playback, rejects further Play calls and waits for workers and
// pending deletions.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if c.cur != nil {
		c.cur.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		c.deletes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback: close: %w", ctx.Err())
	}
}

// run is the per-session worker.
func (c *Controller) run(ctx context.Context, s *session, prev *session) {
	defer c.workers.Done()
	if prev != nil {
		<-prev.done
	}

	log := slog.With("source", s.src.name(), "session", s.id)
	outcome := OutcomeCompleted
	started := false
	defer func() {
		if r := recover(); r != nil {
			log.Error("playback worker panicked", "panic", r)
			outcome = OutcomeFailed
		}
		c.finish(s, outcome, started)
	}()

	if ctx.Err() != nil {
		outcome = c.cancelOutcome(s)
		return
	}

	clip, err := c.decode(s.src)
	if err != nil {
		log.Error("playback decode failed", "err", err)
		outcome = OutcomeFailed
		return
	}

	stream, err := c.platform.OpenOutput(c.out)
	if err != nil {
		log.Error("playback output open failed", "err", err)
		outcome = OutcomeFailed
		return
	}
	stopAbort := context.AfterFunc(ctx, func() {
		if err := stream.Abort(); err != nil {
			log.Debug("playback abort failed", "err", err)
		}
	})
	defer func() {
		stopAbort()
		if err := stream.Close(); err != nil {
			log.Debug("playback output close failed", "err", err)
		}
	}()

	if !s.src.Quiet {
		c.handler.OnAudioStart()
	}
	started = true
	c.metrics.PlaybackActive(context.Background(), 1)
	defer c.metrics.PlaybackActive(context.Background(), -1)
	log.Debug("playback started", "duration", clip.Duration())

	if err := c.write(ctx, stream, clip, s.src); err != nil {
		if ctx.Err() != nil {
			outcome = c.cancelOutcome(s)
			return
		}
		log.Error("playback write failed", "err", err)
		outcome = OutcomeFailed
	}
}

func (c *Controller) cancelOutcome(s *session) Outcome {
	if s.superseded.Load() {
		return OutcomeSuperseded
	}
	return OutcomeStopped
}

func (c *Controller) decode(src Source) (*audio.Clip, error) {
	rc, err := src.open()
	if err != nil {
		return nil, err
	}
	return audio.Decode(rc, src.kind(), audio.Format{SampleRate: c.out.SampleRate, Channels: c.out.Channels})
}

// write streams clip in BlockSize frames, checking ctx between blocks.
func (c *Controller) write(ctx context.Context, stream audio.OutputStream, clip *audio.Clip, src Source) error {
	blockBytes := c.out.BlockSize * c.out.Channels * audio.BytesPerSample
	for {
		for off := 0; off < len(clip.PCM); off += blockBytes {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(off+blockBytes, len(clip.PCM))
			if err := stream.Write(clip.PCM[off:end]); err != nil {
				return err
			}
		}
		if !src.Loop {
			return nil
		}
		if err := sleepCtx(ctx, src.LoopGap); err != nil {
			return err
		}
	}
}

// finish marks the controller idle (unless superseded), emits the stop
// notification and schedules temp-file deletion.
func (c *Controller) finish(s *session, outcome Outcome, started bool) {
	s.cancel()

	c.mu.Lock()
	if c.cur == s {
		c.cur = nil
		if c.speaking.Swap(false) {
			close(c.idle)
		}
	}
	c.mu.Unlock()

	if !s.src.Quiet {
		c.handler.OnAudioStop()
	}
	c.metrics.RecordPlayback(context.Background(), string(outcome))
	slog.Debug("playback finished", "source", s.src.name(), "session", s.id, "outcome", outcome, "started", started)

	if c.isTemp(s.src) {
		c.scheduleDelete(s.src.Path)
	}
	close(s.done)
}

func (c *Controller) isTemp(src Source) bool {
	if src.Path == "" {
		return false
	}
	if src.Temp {
		return true
	}
	if c.tempPrefix != "" && strings.HasPrefix(filepath.Base(src.Path), c.tempPrefix) {
		return true
	}
	if c.tempDir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(c.tempDir), filepath.Clean(src.Path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (c *Controller) scheduleDelete(path string) {
	c.deletes.Add(1)
	go func() {
		defer c.deletes.Done()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to delete temp audio", "path", path, "err", err)
			return
		}
		slog.Debug("deleted temp audio", "path", path)
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
