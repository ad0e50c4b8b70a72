package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the active config.
var ErrUnchanged = errors.New("config: file unchanged")

// stamp is the cheap part of a file's identity, compared before reading.
type stamp struct {
	size  int64
	mtime time.Time
}

func stampOf(fi os.FileInfo) stamp { return stamp{size: fi.Size(), mtime: fi.ModTime()} }

// Watcher keeps a config file in sync with the running process. It polls the
// file's size and mtime and re-parses only when they move; the callback runs
// only when the content hash differs and the new content is valid. Invalid
// edits are logged and the active config is kept.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reload serialises polls with explicit Reload calls.
	reload sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    stamp
	sum     [sha256.Size]byte

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen, w.sum = cfg, st, sum

	go w.loop()
	return w, nil
}

// Current returns the active config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file regardless of its mtime, for example on SIGHUP.
// It returns ErrUnchanged when the content is identical and the parse error
// when the file is invalid; the active config is kept in both cases.
func (w *Watcher) Reload() error {
	w.reload.Lock()
	defer w.reload.Unlock()
	return w.apply()
}

// Stop ends polling and waits for an in-flight callback. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.finished
}

func (w *Watcher) loop() {
	defer close(w.finished)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.reload.Lock()
	defer w.reload.Unlock()

	fi, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	same := w.seen == stampOf(fi)
	w.mu.Unlock()
	if same {
		return
	}

	switch err := w.apply(); {
	case err == nil, errors.Is(err, ErrUnchanged):
	default:
		// Remember the stamp so a broken file is parsed once, not every tick.
		w.mu.Lock()
		w.seen = stampOf(fi)
		w.mu.Unlock()
		slog.Warn("config: invalid edit ignored, keeping active config", "path", w.path, "err", err)
	}
}

// apply reads the file and swaps it in when its content changed. Callers hold
// w.reload.
func (w *Watcher) apply() error {
	cfg, st, sum, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.seen = st
	if sum == w.sum {
		w.mu.Unlock()
		return ErrUnchanged
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

func (w *Watcher) read() (*Config, stamp, [sha256.Size]byte, error) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	return cfg, stampOf(fi), sha256.Sum256(data), nil
}
