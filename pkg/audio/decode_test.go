package audio_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
)

func wavReader(pcm []byte, f audio.Format) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(audio.EncodeWAV(pcm, f)))
}

func TestDecode_WAVSameRate(t *testing.T) {
	src := audio.Format{SampleRate: 16000, Channels: 1}
	pcm := tone(1600, 8000)

	clip, err := audio.Decode(wavReader(pcm, src), audio.KindWAV, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Format.SampleRate != 16000 || clip.Format.Channels != 1 {
		t.Errorf("format = %+v, want 16000Hz mono", clip.Format)
	}
	if got := clip.Duration(); got != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", got)
	}
	got := audio.PCMToSamples(clip.PCM)
	for i, s := range got[:10] {
		if (i%2 == 0) != (s > 0) {
			t.Errorf("sample %d = %d, wrong sign", i, s)
		}
		if s < 3000 && s > -3000 {
			t.Errorf("sample %d = %d, amplitude lost", i, s)
		}
	}
}

func TestDecode_WAVResampleAndStereo(t *testing.T) {
	src := audio.Format{SampleRate: 16000, Channels: 1}
	pcm := tone(1600, 8000)

	clip, err := audio.Decode(wavReader(pcm, src), audio.KindWAV, audio.Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Format.SampleRate != 48000 || clip.Format.Channels != 2 {
		t.Errorf("format = %+v, want 48000Hz stereo", clip.Format)
	}
	d := clip.Duration()
	if d < 95*time.Millisecond || d > 105*time.Millisecond {
		t.Errorf("duration = %v, want ~100ms", d)
	}
}

func TestDecode_UnsupportedKind(t *testing.T) {
	_, err := audio.Decode(io.NopCloser(bytes.NewReader(nil)), audio.Kind("ogg"), audio.Format{})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecode_CorruptInput(t *testing.T) {
	_, err := audio.Decode(io.NopCloser(bytes.NewReader([]byte("not audio"))), audio.KindWAV, audio.Format{})
	if err == nil {
		t.Fatal("expected error for corrupt input")
	}
}

func TestKindFromPath(t *testing.T) {
	tests := map[string]audio.Kind{
		"/tmp/tts_1.mp3":  audio.KindMP3,
		"cue.WAV":         audio.KindWAV,
		"notes.txt":       "",
		"/tmp/noextension": "",
	}
	for path, want := range tests {
		if got := audio.KindFromPath(path); got != want {
			t.Errorf("KindFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestKindFromContentType(t *testing.T) {
	if got := audio.KindFromContentType("audio/mpeg"); got != audio.KindMP3 {
		t.Errorf("audio/mpeg -> %q", got)
	}
	if got := audio.KindFromContentType("audio/wav"); got != audio.KindWAV {
		t.Errorf("audio/wav -> %q", got)
	}
	if got := audio.KindFromContentType("application/json"); got != "" {
		t.Errorf("application/json -> %q", got)
	}
}
