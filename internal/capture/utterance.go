package capture

import (
	"time"

	"github.com/MrWong99/mira/pkg/audio"
)

// Utterance is one contiguous segment of captured speech including the
// trailing padding block.
type Utterance struct {
	// Frames are the captured frames in arrival order, starting with the
	// first speech frame.
	Frames []audio.AudioFrame

	// Padding is the digital silence appended once at finalization.
	Padding []byte

	// Format is the PCM format shared by every frame.
	Format audio.Format
}

// PCM returns the frames followed by the padding as one buffer.
func (u *Utterance) PCM() []byte {
	n := len(u.Padding)
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return append(out, u.Padding...)
}

// WAV returns the utterance in a RIFF/WAVE container.
func (u *Utterance) WAV() []byte {
	return audio.EncodeWAV(u.PCM(), u.Format)
}

// Duration is the audio length including padding.
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	if u.Format.SampleRate > 0 {
		ch := max(u.Format.Channels, 1)
		samples := len(u.Padding) / (audio.BytesPerSample * ch)
		d += time.Duration(samples) * time.Second / time.Duration(u.Format.SampleRate)
	}
	return d
}
