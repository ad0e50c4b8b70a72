package playback

import (
	"sync"
	"time"
)

// DefaultCueGap is the pause between repetitions of the processing cue.
const DefaultCueGap = time.Second

// Cue loops a short "processing" sound through the Controller while the
// dialogue service is working. A Cue with an empty path is a no-op.
type Cue struct {
	ctrl *Controller
	src  Source

	mu     sync.Mutex
	id     uint64
	active bool
}

// NewCue returns a Cue playing the file at path with gap between loops.
func NewCue(ctrl *Controller, path string, gap time.Duration) *Cue {
	if gap <= 0 {
		gap = DefaultCueGap
	}
	return &Cue{
		ctrl: ctrl,
		src:  Source{Path: path, Loop: true, LoopGap: gap, Quiet: true, Label: "processing-cue"},
	}
}

// Start begins looping. Calling Start while active does nothing.
func (c *Cue) Start() {
	if c == nil || c.src.Path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	id, err := c.ctrl.Play(c.src)
	if err != nil {
		return
	}
	c.id, c.active = id, true
}

// Stop ends the cue if it is still the active playback session. Playback
// started by someone else in the meantime is left alone.
func (c *Cue) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.ctrl.StopSession(c.id)
	c.active = false
}
