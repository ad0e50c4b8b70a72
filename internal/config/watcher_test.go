package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mira/internal/config"
)

const baseYAML = `
server:
  log_level: info
keywords:
  stop: ["หยุด"]
providers:
  stt: {name: whisper, base_url: "http://localhost:9000"}
  tts: {name: remote, base_url: "http://localhost:9001/tts"}
  dialogue: {name: remote, base_url: "http://localhost:8000"}
`

const editedYAML = `
server:
  log_level: debug
keywords:
  stop: ["หยุด", "พอ"]
providers:
  stt: {name: whisper, base_url: "http://localhost:9000"}
  tts: {name: remote, base_url: "http://localhost:9001/tts"}
  dialogue: {name: remote, base_url: "http://localhost:8000"}
`

const brokenYAML = `
server:
  log_level: bananas
`

// changes collects watcher callbacks.
type changes struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	last  *config.Config
	fired chan struct{}
}

func newChanges() *changes { return &changes{fired: make(chan struct{}, 8)} }

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	c.diffs = append(c.diffs, config.Diff(old, new))
	c.last = new
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diffs)
}

// writeConfig writes content and pushes the mtime forward so coarse
// filesystem timestamps still register a change.
func writeConfig(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	ts := time.Now().Add(bump)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func startWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseYAML, 0)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Session.ID != config.DefaultSessionID {
		t.Errorf("session.id = %q, want default", cfg.Session.ID)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_PollPicksUpEdit(t *testing.T) {
	t.Parallel()
	c := newChanges()
	w, path := startWatcher(t, c.record)

	writeConfig(t, path, editedYAML, 2*time.Second)

	select {
	case <-c.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after edit")
	}
	c.mu.Lock()
	d, stops := c.diffs[0], c.last.Keywords.Stop
	c.mu.Unlock()
	if !d.KeywordsChanged || !d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v", d)
	}
	if len(stops) != 2 || stops[1] != "พอ" {
		t.Errorf("stop words = %v", stops)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current log_level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_IgnoresNoOpWrites(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		level   config.LogLevel
	}{
		{"touch only", baseYAML, config.LogInfo},
		{"invalid content", brokenYAML, config.LogInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newChanges()
			w, path := startWatcher(t, c.record)

			writeConfig(t, path, tt.content, 2*time.Second)
			time.Sleep(200 * time.Millisecond)

			if n := c.count(); n != 0 {
				t.Errorf("callbacks = %d, want 0", n)
			}
			if got := w.Current().Server.LogLevel; got != tt.level {
				t.Errorf("log_level = %q, want %q", got, tt.level)
			}
		})
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	c := newChanges()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseYAML, 0)
	// A long interval keeps the poller out of the way.
	w, err := config.NewWatcher(path, c.record, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload unchanged = %v, want ErrUnchanged", err)
	}

	// Same mtime, different content: only an explicit reload notices.
	info, _ := os.Stat(path)
	if err := os.WriteFile(path, []byte(editedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.Chtimes(path, info.ModTime(), info.ModTime())
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c.count() != 1 || w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("callbacks = %d, level = %q", c.count(), w.Current().Server.LogLevel)
	}

	writeConfig(t, path, brokenYAML, time.Second)
	if err := w.Reload(); err == nil || errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload broken = %v, want parse error", err)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("broken file replaced the active config")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, nil)
	w.Stop()
	w.Stop()
}
