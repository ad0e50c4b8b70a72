package audio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// resampleQuality is the beep resampler quality (1 = linear, higher = sinc taps).
const resampleQuality = 4

// ErrUnsupportedFormat is returned by [Decode] for containers it cannot read.
var ErrUnsupportedFormat = errors.New("audio: unsupported container format")

// Kind identifies a compressed or containerised audio format.
type Kind string

const (
	KindMP3 Kind = "mp3"
	KindWAV Kind = "wav"
)

// KindFromPath guesses the container from a file extension.
func KindFromPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return KindMP3
	case ".wav", ".wave":
		return KindWAV
	}
	return ""
}

// KindFromContentType maps an HTTP content type to a container kind.
func KindFromContentType(ct string) Kind {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return KindMP3
	case strings.Contains(ct, "wav"):
		return KindWAV
	}
	return ""
}

// Clip is fully decoded PCM ready for playback.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	ch := c.Format.Channels
	if ch <= 0 || c.Format.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / (BytesPerSample * ch)
	return time.Duration(samples) * time.Second / time.Duration(c.Format.SampleRate)
}

// Decode reads an entire mp3 or wav stream, resamples it to out.SampleRate
// and converts it to out.Channels. rc is closed before Decode returns.
func Decode(rc io.ReadCloser, kind Kind, out Format) (*Clip, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch kind {
	case KindMP3:
		streamer, format, err = mp3.Decode(rc)
	case KindWAV:
		streamer, format, err = wav.Decode(rc)
	default:
		rc.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("audio: decode %s: %w", kind, err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if out.SampleRate > 0 && int(format.SampleRate) != out.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(out.SampleRate), streamer)
	} else {
		out.SampleRate = int(format.SampleRate)
	}

	// beep always yields stereo pairs; mono sources are duplicated.
	stereo := make([]int16, 0, streamer.Len()*2)
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for i := range n {
			stereo = append(stereo, FloatToSample(buf[i][0]), FloatToSample(buf[i][1]))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", kind, err)
	}

	if out.Channels <= 0 {
		out.Channels = format.NumChannels
	}
	return &Clip{
		PCM:    ConvertChannels(SamplesToPCM(stereo), 2, out.Channels),
		Format: out,
	}, nil
}
