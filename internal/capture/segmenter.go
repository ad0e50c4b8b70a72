package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/vad"
)

// Segmenter defaults.
const (
	DefaultSilenceTimeout = 1000 * time.Millisecond
	DefaultPostPadding    = 300 * time.Millisecond
	DefaultMaxDuration    = 30 * time.Second
)

// StopReason says why a capture run ended.
type StopReason int

const (
	// StopSilence: speech was followed by more than SilenceTimeout of silence.
	StopSilence StopReason = iota + 1
	// StopMaxDuration: MaxDuration of audio was consumed.
	StopMaxDuration
	// StopNoSpeech: MaxDuration elapsed without any speech frame.
	StopNoSpeech
	// StopCancelled: the context was cancelled.
	StopCancelled
	// StopStreamClosed: the frame source closed.
	StopStreamClosed
)

func (r StopReason) String() string {
	switch r {
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max_duration"
	case StopNoSpeech:
		return "no_speech"
	case StopCancelled:
		return "cancelled"
	case StopStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// Params controls one capture run. Zero durations select the defaults; a
// negative PostPadding disables padding.
type Params struct {
	// ThresholdDB is the loudness a frame must exceed to count as speech.
	ThresholdDB float64

	SilenceTimeout time.Duration
	PostPadding    time.Duration
	MaxDuration    time.Duration

	// Suppress, when set, is consulted per frame; frames arriving while it
	// returns true are discarded (they still count toward MaxDuration). Used
	// to ignore the microphone while our own playback is audible.
	Suppress func() bool
}

func (p Params) withDefaults() Params {
	if p.SilenceTimeout <= 0 {
		p.SilenceTimeout = DefaultSilenceTimeout
	}
	switch {
	case p.PostPadding == 0:
		p.PostPadding = DefaultPostPadding
	case p.PostPadding < 0:
		p.PostPadding = 0
	}
	if p.MaxDuration <= 0 {
		p.MaxDuration = DefaultMaxDuration
	}
	return p
}

// Result is the outcome of one capture run. Utterance is nil unless speech
// was detected.
type Result struct {
	Utterance *Utterance
	Reason    StopReason

	// Consumed is the audio time of all frames read, SpeechFrames the number
	// classified as speech.
	Consumed     time.Duration
	SpeechFrames int
}

// Segmenter splits a frame stream into utterances. A Segmenter holds no
// per-run state and may be shared; each Capture call opens its own VAD
// session.
type Segmenter struct {
	engine   vad.Engine
	mode     int
	vadFrame time.Duration
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithVADFrame sets the classifier frame length (10, 20 or 30 ms). Longer
// input frames are classified on their leading portion.
func WithVADFrame(d time.Duration) SegmenterOption {
	return func(s *Segmenter) { s.vadFrame = d }
}

// NewSegmenter returns a Segmenter classifying frames with engine at the
// given aggressiveness mode (0-3).
func NewSegmenter(engine vad.Engine, mode int, opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{engine: engine, mode: mode, vadFrame: audio.DefaultFrameDuration}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Capture reads frames until an utterance is complete, MaxDuration elapses,
// the stream closes or ctx is cancelled. The error return is reserved for
// VAD setup failures and cancellation; "no speech" is a Result, not an error.
func (s *Segmenter) Capture(ctx context.Context, frames <-chan audio.AudioFrame, p Params) (Result, error) {
	p = p.withDefaults()

	var (
		res         Result
		sess        vad.SessionHandle
		vadBytes    int
		utt         *Utterance
		sinceSpeech time.Duration
	)
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	finalize := func(reason StopReason) (Result, error) {
		res.Reason = reason
		if utt != nil {
			utt.Padding = audio.Silence(utt.Format, p.PostPadding)
			res.Utterance = utt
		}
		return res, nil
	}
	ceiling := func() (Result, error) {
		if utt == nil {
			return finalize(StopNoSpeech)
		}
		return finalize(StopMaxDuration)
	}

	for {
		var (
			f  audio.AudioFrame
			ok bool
		)
		select {
		case <-ctx.Done():
			res.Reason = StopCancelled
			return res, ctx.Err()
		case f, ok = <-frames:
		}
		if !ok {
			if utt == nil {
				res.Reason = StopStreamClosed
				return res, nil
			}
			return finalize(StopStreamClosed)
		}

		if sess == nil {
			var err error
			sess, vadBytes, err = s.openSession(f)
			if err != nil {
				return res, err
			}
		}

		d := f.Duration()
		res.Consumed += d

		if p.Suppress != nil && p.Suppress() {
			if res.Consumed >= p.MaxDuration {
				return ceiling()
			}
			continue
		}

		speech := s.isSpeech(sess, vadBytes, f, p.ThresholdDB)
		if speech {
			res.SpeechFrames++
		}

		switch {
		case utt == nil && speech:
			utt = &Utterance{Format: audio.Format{SampleRate: f.SampleRate, Channels: max(f.Channels, 1)}}
			utt.Frames = append(utt.Frames, f)
			sinceSpeech = 0
		case utt != nil:
			utt.Frames = append(utt.Frames, f)
			if speech {
				sinceSpeech = 0
			} else {
				sinceSpeech += d
				if sinceSpeech > p.SilenceTimeout {
					return finalize(StopSilence)
				}
			}
		}

		if res.Consumed >= p.MaxDuration {
			return ceiling()
		}
	}
}

func (s *Segmenter) openSession(first audio.AudioFrame) (vad.SessionHandle, int, error) {
	cfg := vad.Config{
		SampleRate:  first.SampleRate,
		FrameSizeMs: int(s.vadFrame / time.Millisecond),
		Mode:        s.mode,
	}
	sess, err := s.engine.NewSession(cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("capture: open vad session: %w", err)
	}
	return sess, cfg.FrameBytes(), nil
}

// isSpeech applies the VAD AND loudness rule. Short frames and classifier
// errors count as non-speech.
func (s *Segmenter) isSpeech(sess vad.SessionHandle, vadBytes int, f audio.AudioFrame, thresholdDB float64) bool {
	if vadBytes <= 0 || len(f.Data) < vadBytes {
		return false
	}
	ev, err := sess.ProcessFrame(f.Data[:vadBytes])
	if err != nil {
		if !errors.Is(err, vad.ErrFrameSize) {
			slog.Debug("vad classify failed", "err", err)
		}
		return false
	}
	return ev.IsSpeech() && f.LevelDB > thresholdDB
}
