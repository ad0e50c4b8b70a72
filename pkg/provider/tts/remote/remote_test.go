package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/mira/pkg/provider/tts"
	"github.com/MrWong99/mira/pkg/provider/tts/remote"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyEndpoint_ReturnsError(t *testing.T) {
	if _, err := remote.New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesize_SendsTextAndSSMLFlag(t *testing.T) {
	var got struct {
		Text   string `json:"text"`
		IsSSML bool   `json:"is_ssml"`
	}
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3data"))
	})

	p, _ := remote.New(srv.URL)
	a, err := p.Synthesize(context.Background(), tts.Request{Text: "<speak>hi</speak>", SSML: true})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "<speak>hi</speak>" || !got.IsSSML {
		t.Errorf("request = %+v", got)
	}
	if string(a.Data) != "ID3mp3data" || a.ContentType != "audio/mpeg" {
		t.Errorf("audio = %q (%s)", a.Data, a.ContentType)
	}
}

func TestSynthesize_NonAudioContentType(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	})
	p, _ := remote.New(srv.URL)
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
	if !errors.Is(err, tts.ErrNotAudio) {
		t.Errorf("err = %v, want ErrNotAudio", err)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	p, _ := remote.New(srv.URL)
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
	if err == nil || errors.Is(err, tts.ErrNotAudio) {
		t.Errorf("err = %v, want HTTP error", err)
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	p, _ := remote.New(srv.URL, remote.WithTimeout(50*time.Millisecond))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Fatal("expected timeout")
	}
}
