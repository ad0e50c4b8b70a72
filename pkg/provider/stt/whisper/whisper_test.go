package whisper_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/stt"
	"github.com/MrWong99/mira/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type captured struct {
	language string
	model    string
	wav      []byte
}

// newMockServer creates a test server that responds to POST /inference with
// body. It increments *callCount on every matched request and stores the
// last upload in *last.
func newMockServer(t *testing.T, status int, body string, callCount *atomic.Int32, last *captured) *httptest.Server {
	t.Helper()
	return newMockServerAt(t, "/inference", status, body, callCount, last)
}

func newMockServerAt(t *testing.T, path string, status int, body string, callCount *atomic.Int32, last *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != path {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if last != nil {
			last.language = r.FormValue("language")
			last.model = r.FormValue("model")
			f, _, err := r.FormFile("file")
			if err == nil {
				last.wav, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testWAV() []byte {
	return audio.EncodeWAV(make([]byte, 960), audio.Format{SampleRate: 16000, Channels: 1})
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestTranscribe_ReturnsText(t *testing.T) {
	var calls atomic.Int32
	var last captured
	srv := newMockServer(t, http.StatusOK, `{"text":"  หยุด \n"}`, &calls, &last)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("large-v3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV(), SampleRate: 16000, Language: "th-TH"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "หยุด" {
		t.Errorf("text = %q, want %q", text, "หยุด")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if last.language != "th" {
		t.Errorf("language = %q, want th", last.language)
	}
	if last.model != "large-v3" {
		t.Errorf("model = %q, want large-v3", last.model)
	}
	if string(last.wav[:4]) != "RIFF" {
		t.Errorf("upload is not a WAV container")
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	var last captured
	srv := newMockServer(t, http.StatusOK, `{"text":"hi"}`, nil, &last)

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"))
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV()}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if last.language != "en" {
		t.Errorf("language = %q, want en", last.language)
	}
}

func TestTranscribe_EmptyText_ReturnsNoResult(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, `{"text":"   "}`, nil, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV()})
	if !errors.Is(err, stt.ErrNoResult) {
		t.Errorf("err = %v, want ErrNoResult", err)
	}
}

func TestTranscribe_EmptyAudio_ReturnsNoResult(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, http.StatusOK, `{"text":"x"}`, &calls, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrNoResult) {
		t.Errorf("err = %v, want ErrNoResult", err)
	}
	if calls.Load() != 0 {
		t.Error("server should not be called for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := newMockServer(t, http.StatusInternalServerError, `model not loaded`, nil, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV()})
	if err == nil || errors.Is(err, stt.ErrNoResult) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("err = %v, want status and server message", err)
	}
}

func TestTranscribe_OpenAICompatiblePath(t *testing.T) {
	var last captured
	srv := newMockServerAt(t, "/v1/audio/transcriptions", http.StatusOK, `{"text":"สวัสดี"}`, nil, &last)

	p, _ := whisper.New(srv.URL, whisper.WithPath("v1/audio/transcriptions"), whisper.WithModel("whisper-1"))
	text, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV(), Language: "th_TH"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "สวัสดี" || last.model != "whisper-1" || last.language != "th" {
		t.Errorf("text=%q model=%q language=%q", text, last.model, last.language)
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, `not json`, nil, nil)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV()}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithTimeout(50*time.Millisecond))
	start := time.Now()
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: testWAV()}); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not honoured")
	}
}
