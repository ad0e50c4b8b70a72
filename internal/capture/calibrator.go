package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
)

// DefaultCalibration is the ambient sampling window.
const DefaultCalibration = 3 * time.Second

// ErrNoFrames is returned when calibration received no audio.
var ErrNoFrames = errors.New("capture: no frames received")

// CalibratorOption configures a Calibrator.
type CalibratorOption func(*Calibrator)

// WithMargin sets the dB margin added to the ambient level.
func WithMargin(db float64) CalibratorOption {
	return func(c *Calibrator) { c.margin = db }
}

// Calibrator measures ambient noise and holds the resulting threshold. It is
// safe for concurrent use; Threshold may be read while Calibrate runs.
type Calibrator struct {
	platform audio.Platform
	input    audio.InputConfig
	margin   float64

	state atomic.Pointer[ThresholdState]
}

// NewCalibrator returns a Calibrator that opens input on platform. Until
// Calibrate succeeds, Threshold returns DefaultThreshold.
func NewCalibrator(platform audio.Platform, input audio.InputConfig, opts ...CalibratorOption) *Calibrator {
	c := &Calibrator{platform: platform, input: input, margin: DefaultMarginDB}
	for _, o := range opts {
		o(c)
	}
	def := DefaultThreshold()
	c.state.Store(&def)
	return c
}

// Threshold returns the current threshold state.
func (c *Calibrator) Threshold() ThresholdState {
	return *c.state.Load()
}

// Calibrate opens the input device, averages per-frame loudness over d of
// audio and stores mean + margin as the new threshold. On failure the
// conservative default is stored and the error returned.
func (c *Calibrator) Calibrate(ctx context.Context, d time.Duration) (ThresholdState, error) {
	if d <= 0 {
		d = DefaultCalibration
	}
	stream, err := c.platform.OpenInput(c.input)
	if err != nil {
		return c.fail(fmt.Errorf("capture: calibrate: open input: %w", err))
	}
	defer stream.Close()

	return c.CalibrateFrames(ctx, stream.Frames(), d)
}

// CalibrateFrames is Calibrate over an already open frame source.
func (c *Calibrator) CalibrateFrames(ctx context.Context, frames <-chan audio.AudioFrame, d time.Duration) (ThresholdState, error) {
	var (
		sum     float64
		n       int
		elapsed time.Duration
	)
loop:
	for elapsed < d {
		select {
		case <-ctx.Done():
			if n == 0 {
				return c.fail(fmt.Errorf("capture: calibrate: %w", ctx.Err()))
			}
			break loop
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			sum += f.LevelDB
			n++
			elapsed += f.Duration()
		}
	}
	if n == 0 {
		return c.fail(fmt.Errorf("capture: calibrate: %w", ErrNoFrames))
	}

	st := NewThresholdState(sum/float64(n), c.margin)
	c.state.Store(&st)
	slog.Info("ambient noise calibrated",
		"ambient_db", st.AmbientDB,
		"threshold_db", st.ThresholdDB,
		"frames", n,
		"audio", elapsed,
	)
	return st, nil
}

func (c *Calibrator) fail(err error) (ThresholdState, error) {
	def := DefaultThreshold()
	def.MarginDB = c.margin
	def.ThresholdDB = def.AmbientDB + c.margin
	c.state.Store(&def)
	slog.Warn("calibration failed, using default threshold", "threshold_db", def.ThresholdDB, "err", err)
	return def, err
}
