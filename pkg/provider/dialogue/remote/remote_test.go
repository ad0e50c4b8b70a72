package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/dialogue/remote"
)

func newServer(t *testing.T, handler http.HandlerFunc) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := remote.New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := remote.New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestAsk_DecodesReply(t *testing.T) {
	var got map[string]string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ask" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"intent": "confirm_order",
			"response_ssml": "<speak>ยืนยันไหมคะ</speak>",
			"orders": [{"name": "ผัดไทย", "qty": 2, "price": 60, "status": "new"}],
			"total_price": "120.0",
			"discount": 0
		}`)
	})

	reply, err := c.Ask(context.Background(), "rasp-pi-001", "สั่งผัดไทยสองจาน")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got["session_id"] != "rasp-pi-001" || got["user_input"] != "สั่งผัดไทยสองจาน" {
		t.Errorf("request body = %v", got)
	}
	if reply.Intent != dialogue.IntentConfirmOrder {
		t.Errorf("intent = %q", reply.Intent)
	}
	if len(reply.Orders) != 1 || reply.Orders[0].Qty != 2 {
		t.Errorf("orders = %+v", reply.Orders)
	}
	if reply.TotalPrice.String() != "120.0" {
		t.Errorf("total = %q", reply.TotalPrice)
	}
	if f, _ := reply.Discount.Float64(); f != 0 {
		t.Errorf("discount = %v", f)
	}
}

func TestAsk_EmptyReply(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"intent":"unknown","response_ssml":" "}`)
	})
	reply, err := c.Ask(context.Background(), "s", "x")
	if !errors.Is(err, dialogue.ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
	if reply == nil || reply.Intent != "unknown" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestAsk_HTTPError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.Ask(context.Background(), "s", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestReset_PostsSessionID(t *testing.T) {
	var path, session string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		session = body["session_id"]
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	if err := c.Reset(context.Background(), "rasp-pi-001"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if path != "/reset-session" || session != "rasp-pi-001" {
		t.Errorf("path=%q session=%q", path, session)
	}
}

func TestPing(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	dead, _ := remote.New("http://127.0.0.1:1", remote.WithTimeout(200*time.Millisecond))
	if err := dead.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable service")
	}
}
