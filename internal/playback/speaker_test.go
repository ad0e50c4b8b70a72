package playback_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mira/internal/playback"
	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mira/pkg/provider/tts/mock"
)

func wavAudio(d time.Duration) *tts.Audio {
	n := int(int64(outFmt.SampleRate) * int64(d) / int64(time.Second))
	return &tts.Audio{
		Data:        audio.EncodeWAV(audio.SamplesToPCM(make([]int16, n)), outFmt),
		ContentType: "audio/wav",
	}
}

func TestSpeaker_SynthesisesToTempFileAndPlays(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	dir := filepath.Join(f.dir, "tmp")
	_ = os.MkdirAll(dir, 0o700)
	p := &ttsmock.Provider{Result: wavAudio(60 * time.Millisecond)}
	sp := playback.NewSpeaker(p, f.ctrl, playback.WithSpeakerDir(dir))

	if err := sp.SpeakAndWait(context.Background(), "<speak>สวัสดีค่ะ</speak>", true); err != nil {
		t.Fatalf("SpeakAndWait: %v", err)
	}
	req := p.LastRequest()
	if !req.SSML || req.Text != "<speak>สวัสดีค่ะ</speak>" {
		t.Errorf("request = %+v", req)
	}
	// Speak stops first (single stop with nothing active), then start/stop.
	if got := f.rec.waitEvents(t, 3); strings.Join(got, ",") != "stop,start,stop" {
		t.Errorf("events = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = f.ctrl.Close(ctx)
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestSpeaker_FileNaming(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 50*time.Millisecond)
	dir := t.TempDir()
	p := &ttsmock.Provider{Result: wavAudio(300 * time.Millisecond)}
	sp := playback.NewSpeaker(p, f.ctrl, playback.WithSpeakerDir(dir))

	if err := sp.Speak(context.Background(), "hi", false); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "tts_*.wav"))
	f.ctrl.Stop()
	waitIdle(t, f.ctrl)
	if len(matches) != 1 {
		t.Fatalf("expected one tts_<uuid>.wav file, got %v", matches)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(matches[0]), "tts_"), ".wav")
	if len(name) != 36 {
		t.Errorf("file name %q does not carry a uuid", name)
	}
}

func TestSpeaker_RejectsNonAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	p := &ttsmock.Provider{Result: &tts.Audio{Data: []byte("{}"), ContentType: "application/json"}}
	sp := playback.NewSpeaker(p, f.ctrl, playback.WithSpeakerDir(t.TempDir()))

	err := sp.Speak(context.Background(), "hi", false)
	if !errors.Is(err, tts.ErrNotAudio) {
		t.Errorf("err = %v, want ErrNotAudio", err)
	}
	if f.ctrl.IsSpeaking() {
		t.Error("nothing should play")
	}
}

func TestSpeaker_ProviderError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	sp := playback.NewSpeaker(&ttsmock.Provider{Err: errors.New("tts down")}, f.ctrl)
	if err := sp.Speak(context.Background(), "hi", false); err == nil {
		t.Fatal("expected error")
	}
	if err := sp.Speak(context.Background(), "", false); err == nil {
		t.Fatal("expected error for empty text")
	}
}
