package avatar_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mira/internal/avatar"
	"github.com/MrWong99/mira/internal/conversation"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
)

func startHub(t *testing.T, opts ...avatar.Option) (*avatar.Hub, string) {
	t.Helper()
	hub := avatar.NewHub(opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *avatar.Hub, url string, want int) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client not registered")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) avatar.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v, want text", typ)
	}
	var ev avatar.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return ev
}

func TestHub_BroadcastsPlaybackEvents(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t)
	a := dial(t, hub, url, 1)
	b := dial(t, hub, url, 2)

	hub.OnAudioStart()
	hub.OnAudioStop()

	for _, conn := range []*websocket.Conn{a, b} {
		if ev := readEvent(t, conn); ev.Type != avatar.TypeAudioStart || ev.Time.IsZero() {
			t.Errorf("first event = %+v", ev)
		}
		if ev := readEvent(t, conn); ev.Type != avatar.TypeAudioStop {
			t.Errorf("second event = %+v", ev)
		}
	}
}

func TestHub_TurnAndStateEvents(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	hub.OnState(conversation.StateConfirming)
	hub.OnTurn(conversation.TurnResult{
		UserText:     "เช็คบิล",
		Intent:       dialogue.IntentConfirmOrder,
		ResponseSSML: "<speak>ยืนยันไหมคะ</speak>",
		Orders:       []dialogue.Order{{Name: "ลาเต้", Qty: 2, Price: 60}},
		TotalPrice:   "120",
		Next:         conversation.StateConfirming,
	})
	hub.OnTurn(conversation.TurnResult{UserText: "x", Err: errors.New("timeout")})

	if ev := readEvent(t, conn); ev.Type != avatar.TypeState || ev.State != "CONFIRMING" {
		t.Errorf("state event = %+v", ev)
	}
	ev := readEvent(t, conn)
	if ev.Type != avatar.TypeTurn || ev.Turn == nil {
		t.Fatalf("turn event = %+v", ev)
	}
	if ev.Turn.UserText != "เช็คบิล" || len(ev.Turn.Orders) != 1 || ev.Turn.TotalPrice != "120" {
		t.Errorf("turn = %+v", ev.Turn)
	}
	if ev := readEvent(t, conn); ev.Error != "timeout" {
		t.Errorf("error event = %+v", ev)
	}
}

func TestHub_SendsLastStateOnConnect(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t)
	hub.OnState(conversation.StateListening)

	conn := dial(t, hub, url, 1)
	if ev := readEvent(t, conn); ev.Type != avatar.TypeState || ev.State != "LISTENING" {
		t.Errorf("hello event = %+v", ev)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t, avatar.WithBuffer(1))
	dial(t, hub, url, 1) // never reads

	for range 10_000 {
		hub.OnAudioStart()
		if hub.ClientCount() == 0 {
			return
		}
	}
	t.Error("slow client was never dropped")
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	t.Parallel()
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	hub.Close()
	if hub.ClientCount() != 0 {
		t.Error("clients remain after Close")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read err = %v, want going away", err)
	}
}
