package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mira/internal/app"
	"github.com/MrWong99/mira/internal/config"
	"github.com/MrWong99/mira/internal/listener"
	"github.com/MrWong99/mira/pkg/audio"
	audiomock "github.com/MrWong99/mira/pkg/audio/mock"
	dialoguemock "github.com/MrWong99/mira/pkg/provider/dialogue/mock"
	sttmock "github.com/MrWong99/mira/pkg/provider/stt/mock"
	"github.com/MrWong99/mira/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mira/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/mira/pkg/provider/vad/mock"
)

// ---- helpers ----------------------------------------------------------------

// testConfig returns a defaulted config with a short calibration window and
// no HTTP listener.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = ""
	cfg.Listener.Calibration = 300 * time.Millisecond
	cfg.Playback.TempDir = t.TempDir()
	cfg.Session.IdleTimeout = 0
	return cfg
}

type testProviders struct {
	platform *audiomock.Platform
	stt      *sttmock.Provider
	tts      *ttsmock.Provider
	dialogue *dialoguemock.Client
}

func newTestProviders() (*testProviders, *app.Providers) {
	tp := &testProviders{
		platform: &audiomock.Platform{
			// Quiet audio for calibration; later captures get an idle stream.
			InputScripts: [][]audio.AudioFrame{audiomock.Frames(48000, 10, 50)},
		},
		stt: &sttmock.Provider{},
		tts: &ttsmock.Provider{Result: &tts.Audio{
			Data:        audio.EncodeWAV(make([]byte, 960), audio.Format{SampleRate: 48000, Channels: 1}),
			ContentType: "audio/wav",
		}},
		dialogue: &dialoguemock.Client{},
	}
	return tp, &app.Providers{
		Audio:    tp.platform,
		VAD:      &vadmock.Engine{},
		STT:      tp.stt,
		TTS:      tp.tts,
		Dialogue: tp.dialogue,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, p *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(cfg, p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type readyBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func getReady(t *testing.T, h http.Handler) (int, readyBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body readyBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	return rec.Code, body
}

// ---- tests ------------------------------------------------------------------

func TestNew_RequiresProviders(t *testing.T) {
	_, err := app.New(testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error for empty providers")
	}
	for _, want := range []string{"audio", "vad", "stt", "tts", "dialogue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNew_AppliesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keywords.Wake = []string{"มีร่า"}
	cfg.Keywords.Cancel = []string{}
	cfg.Listener.KeywordMaxDistance = 1
	_, p := newTestProviders()

	a := newTestApp(t, cfg, p)

	kw := a.Listener().Keywords()
	if !slices.Equal(kw.Wake, []string{listener.Normalize("มีร่า")}) {
		t.Errorf("wake = %v", kw.Wake)
	}
	if len(kw.Cancel) != 0 {
		t.Errorf("cancel = %v, want disabled", kw.Cancel)
	}
	if len(kw.Stop) == 0 {
		t.Error("stop words should keep their defaults")
	}
	if !a.Listener().Match(listener.ClassWake, "มีรา") {
		t.Error("one-edit wake word should match with distance 1")
	}
}

func TestKeywordSet_NilKeepsDefaults(t *testing.T) {
	def := listener.DefaultKeywords()
	got := app.KeywordSet(config.KeywordsConfig{Exit: []string{"bye"}})

	if !slices.Equal(got.Wake, def.Wake) {
		t.Errorf("wake = %v, want defaults %v", got.Wake, def.Wake)
	}
	if !slices.Equal(got.Exit, []string{"bye"}) {
		t.Errorf("exit = %v, want [bye]", got.Exit)
	}
}

func TestHandler_Routes(t *testing.T) {
	_, p := newTestProviders()
	a := newTestApp(t, testConfig(t), p)
	h := a.Handler()

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestHandler_ReadyzBeforeCalibration(t *testing.T) {
	tp, p := newTestProviders()
	tp.dialogue.PingErr = errors.New("backend down")
	a := newTestApp(t, testConfig(t), p)

	code, body := getReady(t, a.Handler())
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body.Checks["input_device"] != "ok" {
		t.Errorf("input_device = %q, want ok", body.Checks["input_device"])
	}
	if !strings.Contains(body.Checks["calibration"], "fail") {
		t.Errorf("calibration = %q, want fail", body.Checks["calibration"])
	}
	if !strings.Contains(body.Checks["dialogue"], "backend down") {
		t.Errorf("dialogue = %q, want ping error", body.Checks["dialogue"])
	}
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	_, p := newTestProviders()
	var level slog.LevelVar
	a := newTestApp(t, cfg, p, app.WithLogLevel(&level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Keywords.Stop = []string{"พอแล้ว"}
	next.Listener.KeywordMaxDistance = 2
	next.Audio.SampleRate = 16000

	a.ApplyConfig(cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := a.Listener().Keywords().Stop; !slices.Equal(got, []string{listener.Normalize("พอแล้ว")}) {
		t.Errorf("stop = %v", got)
	}
	if !a.Listener().Match(listener.ClassStop, "พอแลว") {
		t.Error("new max distance not applied")
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.Level(tt.in); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRun_CalibratesThenGreets(t *testing.T) {
	cfg := testConfig(t)
	tp, p := newTestProviders()
	a := newTestApp(t, cfg, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "greeting", func() bool {
		asks := tp.dialogue.AskTexts()
		return len(asks) > 0 && asks[0] == cfg.Session.Greeting
	})
	if tp.dialogue.ResetCount() == 0 {
		t.Error("dialogue session was not reset before the greeting")
	}
	waitFor(t, "tts", func() bool { return tp.tts.CallCount() > 0 })

	code, body := getReady(t, a.Handler())
	if body.Checks["calibration"] != "ok" {
		t.Errorf("calibration = %q (status %d), want ok", body.Checks["calibration"], code)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_MissingMicrophoneDoesNotSpin(t *testing.T) {
	cfg := testConfig(t)
	tp, p := newTestProviders()
	tp.platform.InputErr = errors.New("no microphone")
	a := newTestApp(t, cfg, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "greeting", func() bool { return len(tp.dialogue.AskTexts()) > 0 })
	time.Sleep(500 * time.Millisecond)
	attempts := tp.platform.InputAttempts()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}

	// Calibration plus one background and one foreground try per retry delay.
	if attempts > 6 {
		t.Errorf("input open attempts = %d, want retries spaced by the retry delay", attempts)
	}
	code, body := getReady(t, a.Handler())
	if code != http.StatusServiceUnavailable || !strings.Contains(body.Checks["input_device"], "no microphone") {
		t.Errorf("readyz = %d %v, want input_device failure", code, body.Checks)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	_, p := newTestProviders()
	a, err := app.New(testConfig(t), p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
