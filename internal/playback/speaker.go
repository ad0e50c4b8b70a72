package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/pkg/provider/tts"
)

// Speaker synthesises text and hands the result to a Controller as a
// temporary mp3 file.
type Speaker struct {
	tts     tts.Provider
	ctrl    *Controller
	dir     string
	prefix  string
	metrics *observe.Metrics
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerDir sets where synthesised files are written.
func WithSpeakerDir(dir string) SpeakerOption {
	return func(s *Speaker) { s.dir = dir }
}

// WithSpeakerMetrics records TTS latency on m.
func WithSpeakerMetrics(m *observe.Metrics) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// NewSpeaker returns a Speaker. Files go to the controller's temp dir with
// its temp prefix unless overridden.
func NewSpeaker(p tts.Provider, ctrl *Controller, opts ...SpeakerOption) *Speaker {
	s := &Speaker{tts: p, ctrl: ctrl, dir: ctrl.tempDir, prefix: ctrl.tempPrefix}
	if s.dir == "" {
		s.dir = os.TempDir()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak stops current playback, synthesises text and starts playing it. It
// returns once playback has been queued, not when it finishes.
func (s *Speaker) Speak(ctx context.Context, text string, ssml bool) error {
	if text == "" {
		return errors.New("playback: speak: empty text")
	}
	s.ctrl.Stop()

	ctx, span := observe.StartSpan(ctx, "tts.synthesize")
	defer span.End()

	start := time.Now()
	a, err := s.tts.Synthesize(ctx, tts.Request{Text: text, SSML: ssml})
	if s.metrics != nil {
		observe.ObserveSince(ctx, s.metrics.TTSDuration, start)
	}
	if err != nil {
		observe.FailSpan(span, err)
		return fmt.Errorf("playback: synthesize: %w", err)
	}
	if !a.IsAudio() {
		return fmt.Errorf("playback: synthesize: %w: %q", tts.ErrNotAudio, a.ContentType)
	}

	path := filepath.Join(s.dir, s.prefix+uuid.NewString()+a.Extension())
	if err := os.WriteFile(path, a.Data, 0o600); err != nil {
		return fmt.Errorf("playback: write temp audio: %w", err)
	}
	observe.Logger(ctx).Debug("synthesised reply", "path", path, "bytes", len(a.Data))

	if _, err := s.ctrl.Play(FileSource(path, true)); err != nil {
		return err
	}
	return nil
}

// SpeakAndWait is Speak followed by waiting for playback to finish.
func (s *Speaker) SpeakAndWait(ctx context.Context, text string, ssml bool) error {
	if err := s.Speak(ctx, text, ssml); err != nil {
		return err
	}
	if err := s.ctrl.WaitIdle(ctx); err != nil {
		slog.Debug("wait for playback aborted", "err", err)
		return err
	}
	return nil
}
