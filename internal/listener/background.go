package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Wake returns the wake signal. Wake words arriving while a previous signal
// is still pending coalesce into it.
func (c *Coordinator) Wake() <-chan struct{} { return c.wake }

// SetExitHandler registers fn to run when the background scan hears an exit
// word. A nil fn removes the handler.
func (c *Coordinator) SetExitHandler(fn func()) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	c.onExit = fn
}

func (c *Coordinator) exitHandler() func() {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.onExit
}

// PauseBackground stops the background scan from starting new captures. A
// capture already in flight finishes normally.
func (c *Coordinator) PauseBackground() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumed = make(chan struct{})
	}
}

// ResumeBackground lets the background scan continue.
func (c *Coordinator) ResumeBackground() {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
}

// BackgroundPaused reports whether the scan is paused.
func (c *Coordinator) BackgroundPaused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.paused
}

func (c *Coordinator) waitResumed(ctx context.Context) error {
	c.pauseMu.Lock()
	if !c.paused {
		c.pauseMu.Unlock()
		return nil
	}
	ch := c.resumed
	c.pauseMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunBackground calibrates unless Calibrate already ran, then scans for
// keywords until ctx is cancelled. Stop words stop playback, wake words signal [Coordinator.Wake]
// and exit words call the exit handler. Errors never end the loop.
func (c *Coordinator) RunBackground(ctx context.Context) error {
	if !c.calAttempted.Load() {
		c.Calibrate(ctx)
	}
	slog.Info("background keyword scan started")
	defer slog.Info("background keyword scan stopped")

	for {
		if err := c.waitResumed(ctx); err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := c.scanOnce(ctx); err != nil && ctx.Err() == nil {
			if sleepCtx(ctx, c.retryDelay) != nil {
				return nil
			}
		}
	}
}

// scanOnce runs one keyword capture. It returns an error only for failures
// worth backing off from.
func (c *Coordinator) scanOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background scan panicked", "panic", r)
			err = errors.New("listener: background scan panicked")
		}
	}()

	text, err := c.listen(ctx, Options{
		KeywordsOnly:   true,
		SilenceTimeout: c.background.SilenceTimeout,
		PostPadding:    c.background.PostPadding,
		MaxDuration:    c.background.MaxDuration,
	})
	if errors.Is(err, errNoText) {
		return nil
	}
	if err != nil {
		return err
	}

	class := c.Classify(text)
	c.metrics.RecordKeyword(ctx, class.String())
	switch class {
	case ClassStop:
		slog.Info("stop word heard", "text", text)
		if c.player != nil {
			c.player.Stop()
		}
	case ClassWake:
		slog.Info("wake word heard", "text", text)
		select {
		case c.wake <- struct{}{}:
		default:
		}
	case ClassExit:
		slog.Info("exit word heard", "text", text)
		if fn := c.exitHandler(); fn != nil {
			fn()
		}
	}
	return nil
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
