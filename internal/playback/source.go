package playback

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
)

// Source identifies something to play. Either Path or Data must be set.
type Source struct {
	// Path is an mp3 or wav file on disk.
	Path string

	// Data is an in-memory encoded payload, used when Path is empty.
	Data []byte

	// Kind overrides the container detected from Path.
	Kind audio.Kind

	// Temp marks the file for deletion once playback ends.
	Temp bool

	// Loop replays the clip until stopped, pausing LoopGap between rounds.
	Loop    bool
	LoopGap time.Duration

	// Quiet sessions do not notify handlers but still set IsSpeaking. Used
	// for cues that should not animate the avatar.
	Quiet bool

	// Label names the source in logs.
	Label string
}

// FileSource plays the file at path.
func FileSource(path string, temp bool) Source {
	return Source{Path: path, Temp: temp, Label: filepath.Base(path)}
}

func (s Source) name() string {
	switch {
	case s.Label != "":
		return s.Label
	case s.Path != "":
		return filepath.Base(s.Path)
	default:
		return "memory"
	}
}

func (s Source) kind() audio.Kind {
	if s.Kind != "" {
		return s.Kind
	}
	return audio.KindFromPath(s.Path)
}

func (s Source) open() (io.ReadCloser, error) {
	if s.Path == "" {
		if len(s.Data) == 0 {
			return nil, fmt.Errorf("playback: source %q is empty", s.name())
		}
		return io.NopCloser(bytes.NewReader(s.Data)), nil
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("playback: open %s: %w", s.Path, err)
	}
	return f, nil
}
