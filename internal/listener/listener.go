// Package listener owns the microphone. A [Coordinator] serialises capture
// runs behind a capture lock, turns utterances into text through an STT
// provider and runs the background keyword scan that handles barge-in
// (stop words), wake words and exit words while the conversation is busy
// elsewhere.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mira/internal/capture"
	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/stt"
)

// Defaults for the background scan.
const (
	DefaultBackgroundSilence = 300 * time.Millisecond
	DefaultBackgroundPadding = 100 * time.Millisecond
	DefaultBackgroundMax     = 5 * time.Second
	DefaultLanguage          = "th-TH"
	defaultRetryDelay        = time.Second
)

// Player is the part of the playback controller the listener needs.
type Player interface {
	Stop()
	IsSpeaking() bool
	WaitIdle(ctx context.Context) error
}

// Options controls one Listen call. Zero durations select the segmenter
// defaults.
type Options struct {
	// SkipIfSpeaking waits for playback to finish before capturing and
	// discards frames that arrive while playback is active.
	SkipIfSpeaking bool

	// KeywordsOnly drops transcripts that are not a known keyword.
	KeywordsOnly bool

	SilenceTimeout time.Duration
	PostPadding    time.Duration
	MaxDuration    time.Duration
}

// Timeouts groups the segmenter durations of one listening mode.
type Timeouts struct {
	SilenceTimeout time.Duration
	PostPadding    time.Duration
	MaxDuration    time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLanguage sets the language passed to the STT provider.
func WithLanguage(lang string) Option {
	return func(c *Coordinator) { c.language = lang }
}

// WithForeground sets the timeouts applied to foreground Listen calls that
// leave them zero.
func WithForeground(t Timeouts) Option {
	return func(c *Coordinator) { c.foreground = t }
}

// WithBackground sets the timeouts of the background keyword scan.
func WithBackground(t Timeouts) Option {
	return func(c *Coordinator) { c.background = t }
}

// WithCalibration sets how much ambient audio RunBackground samples.
func WithCalibration(d time.Duration) Option {
	return func(c *Coordinator) { c.calibration = d }
}

// WithKeywords sets the initial keyword lists.
func WithKeywords(k KeywordSet) Option {
	return func(c *Coordinator) { c.SetKeywords(k) }
}

// WithMaxDistance allows keyword matches within n edits.
func WithMaxDistance(n int) Option {
	return func(c *Coordinator) { c.maxDistance.Store(int64(n)) }
}

// WithMetrics records capture and STT metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryDelay sets the pause after a failed background capture.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// Coordinator serialises microphone use and runs the background scan.
type Coordinator struct {
	platform  audio.Platform
	input     audio.InputConfig
	segmenter *capture.Segmenter
	cal       *capture.Calibrator
	stt       stt.Provider
	player    Player
	metrics   *observe.Metrics

	language    string
	foreground  Timeouts
	background  Timeouts
	calibration time.Duration
	retryDelay  time.Duration

	lock        chan struct{} // capture lock, one slot
	wake        chan struct{} // buffer 1; signals coalesce
	keywords    atomic.Pointer[KeywordSet]
	maxDistance atomic.Int64

	pauseMu sync.Mutex
	paused  bool
	resumed chan struct{}

	exitMu sync.Mutex
	onExit func()

	inputMu  sync.Mutex
	inputErr error

	calAttempted atomic.Bool
}

// New returns a Coordinator capturing from platform with input.
func New(platform audio.Platform, input audio.InputConfig, seg *capture.Segmenter, cal *capture.Calibrator, recognizer stt.Provider, player Player, opts ...Option) *Coordinator {
	c := &Coordinator{
		platform:  platform,
		input:     input,
		segmenter: seg,
		cal:       cal,
		stt:       recognizer,
		player:    player,
		language:  DefaultLanguage,
		background: Timeouts{
			SilenceTimeout: DefaultBackgroundSilence,
			PostPadding:    DefaultBackgroundPadding,
			MaxDuration:    DefaultBackgroundMax,
		},
		calibration: capture.DefaultCalibration,
		retryDelay:  defaultRetryDelay,
		lock:        make(chan struct{}, 1),
		wake:        make(chan struct{}, 1),
	}
	c.SetKeywords(DefaultKeywords())
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Keywords ─────────────────────────────────────────────────────────────────

// Keywords returns the active keyword lists.
func (c *Coordinator) Keywords() KeywordSet {
	return *c.keywords.Load()
}

// SetKeywords replaces the keyword lists. Safe to call while listening.
func (c *Coordinator) SetKeywords(k KeywordSet) {
	n := k.normalized()
	c.keywords.Store(&n)
}

// SetMaxDistance changes the keyword edit distance. Safe to call while
// listening.
func (c *Coordinator) SetMaxDistance(n int) {
	c.maxDistance.Store(int64(n))
}

// Match reports whether text belongs to class cl under the configured
// distance.
func (c *Coordinator) Match(cl Class, text string) bool {
	return c.Keywords().Matches(cl, text, int(c.maxDistance.Load()))
}

// Classify returns the keyword class of text.
func (c *Coordinator) Classify(text string) Class {
	return c.Keywords().Classify(text, int(c.maxDistance.Load()))
}

// ─── Capture lock ─────────────────────────────────────────────────────────────

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() { <-c.lock }

// ─── Listen ───────────────────────────────────────────────────────────────────

// errNoText marks a capture that produced no usable transcript. It is not a
// device failure and does not trigger the background retry delay.
var errNoText = errors.New("listener: no text")

// Listen captures one utterance and returns its normalised transcript. It
// reports false on silence, recognition failure, cancellation, or when
// KeywordsOnly is set and the transcript is not a keyword. Failures are
// logged, never returned.
func (c *Coordinator) Listen(ctx context.Context, o Options) (string, bool) {
	text, err := c.listen(ctx, o)
	if err != nil {
		return "", false
	}
	return text, true
}

func (c *Coordinator) listen(ctx context.Context, o Options) (string, error) {
	mode := "foreground"
	if o.KeywordsOnly {
		mode = "background"
	} else {
		o = c.applyForeground(o)
	}
	log := observe.Logger(ctx).With("mode", mode)

	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	if o.SkipIfSpeaking && c.player != nil {
		if err := c.player.WaitIdle(ctx); err != nil {
			return "", err
		}
	}

	utt, err := c.capture(ctx, o, mode)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("capture failed", "err", err)
		}
		return "", err
	}
	if utt == nil {
		return "", errNoText
	}

	text, err := c.transcribe(ctx, utt)
	switch {
	case errors.Is(err, stt.ErrNoResult):
		log.Debug("no speech recognised")
		return "", errNoText
	case err != nil:
		log.Error("transcription failed", "err", err)
		return "", errNoText
	}

	text = Normalize(text)
	if text == "" {
		return "", errNoText
	}
	if o.KeywordsOnly && c.Classify(text) == ClassNone {
		log.Debug("ignored non-keyword input", "text", text)
		return "", errNoText
	}
	log.Debug("recognised", "text", text)
	return text, nil
}

func (c *Coordinator) applyForeground(o Options) Options {
	if o.SilenceTimeout == 0 {
		o.SilenceTimeout = c.foreground.SilenceTimeout
	}
	if o.PostPadding == 0 {
		o.PostPadding = c.foreground.PostPadding
	}
	if o.MaxDuration == 0 {
		o.MaxDuration = c.foreground.MaxDuration
	}
	return o
}

// capture opens the input and runs the segmenter. A nil utterance with a nil
// error means nothing was said.
func (c *Coordinator) capture(ctx context.Context, o Options, mode string) (*capture.Utterance, error) {
	stream, err := c.platform.OpenInput(c.input)
	c.setInputErr(err)
	if err != nil {
		return nil, fmt.Errorf("listener: open input: %w", err)
	}
	defer func() {
		c.metrics.RecordOverruns(ctx, stream.Overruns())
		if err := stream.Close(); err != nil {
			slog.Debug("input close failed", "err", err)
		}
	}()

	p := capture.Params{
		ThresholdDB:    c.cal.Threshold().ThresholdDB,
		SilenceTimeout: o.SilenceTimeout,
		PostPadding:    o.PostPadding,
		MaxDuration:    o.MaxDuration,
	}
	if o.SkipIfSpeaking && c.player != nil {
		p.Suppress = c.player.IsSpeaking
	}

	res, err := c.segmenter.Capture(ctx, stream.Frames(), p)
	var audioLen time.Duration
	if res.Utterance != nil {
		audioLen = res.Utterance.Duration()
	}
	c.metrics.RecordUtterance(ctx, mode, res.Reason.String(), audioLen)
	if err != nil {
		return nil, err
	}
	if res.Reason == capture.StopStreamClosed && res.Utterance == nil {
		return nil, fmt.Errorf("listener: input stream closed")
	}
	return res.Utterance, nil
}

func (c *Coordinator) transcribe(ctx context.Context, utt *capture.Utterance) (string, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	start := time.Now()
	text, err := c.stt.Transcribe(ctx, stt.Request{
		Audio:      utt.WAV(),
		SampleRate: utt.Format.SampleRate,
		Language:   c.language,
	})
	if c.metrics != nil {
		observe.ObserveSince(ctx, c.metrics.STTDuration, start)
	}
	if err != nil && !errors.Is(err, stt.ErrNoResult) {
		observe.FailSpan(span, err)
	}
	return text, err
}

func (c *Coordinator) setInputErr(err error) {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()
	c.inputErr = err
}

// InputCheck reports the result of the most recent attempt to open the
// input device. It is nil before the first attempt.
func (c *Coordinator) InputCheck(context.Context) error {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()
	return c.inputErr
}

// ─── Calibration ──────────────────────────────────────────────────────────────

// Calibrate samples ambient noise under the capture lock. On failure the
// default threshold stays in place and RunBackground does not retry.
func (c *Coordinator) Calibrate(ctx context.Context) capture.ThresholdState {
	if err := c.acquire(ctx); err != nil {
		return c.cal.Threshold()
	}
	defer c.release()

	c.calAttempted.Store(true)
	st, err := c.cal.Calibrate(ctx, c.calibration)
	if err != nil {
		if ctx.Err() == nil {
			c.setInputErr(err)
		}
		return st
	}
	c.setInputErr(nil)
	slog.Info("ambient calibration complete", "ambient_db", st.AmbientDB, "threshold_db", st.ThresholdDB)
	return st
}
