// Package avatar broadcasts playback and conversation events to connected
// avatar front-ends over WebSocket.
//
// Every event is one JSON text message:
//
//	{"type":"audio_start","time":"..."}
//	{"type":"audio_stop","time":"..."}
//	{"type":"state","state":"LISTENING","time":"..."}
//	{"type":"turn","turn":{"user_text":"...","intent":"...",...},"time":"..."}
//
// A client that falls behind by more than the send buffer is disconnected
// rather than slowing the broadcaster down.
package avatar

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mira/internal/conversation"
	"github.com/MrWong99/mira/internal/playback"
)

// Event types.
const (
	TypeAudioStart = "audio_start"
	TypeAudioStop  = "audio_stop"
	TypeState      = "state"
	TypeTurn       = "turn"
)

const (
	defaultBuffer       = 32
	defaultWriteTimeout = 5 * time.Second
)

// Event is one message sent to clients.
type Event struct {
	Type  string                   `json:"type"`
	State string                   `json:"state,omitempty"`
	Turn  *conversation.TurnResult `json:"turn,omitempty"`
	Error string                   `json:"error,omitempty"`
	Time  time.Time                `json:"time"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithBuffer sets the per-client send buffer.
func WithBuffer(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

// Hub fans events out to every connected WebSocket client. It implements
// [playback.Handler] and [conversation.Observer].
type Hub struct {
	origins      []string
	buffer       int
	writeTimeout time.Duration
	now          func() time.Time

	mu        sync.Mutex
	clients   map[*client]struct{}
	lastState string
	closed    bool
}

type client struct {
	send chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

var (
	_ playback.Handler      = (*Hub)(nil)
	_ conversation.Observer = (*Hub)(nil)
	_ http.Handler          = (*Hub)(nil)
)

// NewHub returns an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.buffer = max(h.buffer, 1)
	return h
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the Hub is closed. The latest known state is sent on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("avatar websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, h.buffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)
	slog.Debug("avatar client connected", "remote", r.RemoteAddr)

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Debug("avatar client write failed", "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.lastState != "" {
		if msg, err := json.Marshal(Event{Type: TypeState, State: h.lastState, Time: h.now()}); err == nil {
			c.send <- msg
		}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

// Broadcast sends ev to every client. It never blocks.
func (h *Hub) Broadcast(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		slog.Error("avatar event marshal failed", "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Type == TypeState {
		h.lastState = ev.State
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("avatar client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// OnAudioStart implements [playback.Handler].
func (h *Hub) OnAudioStart() { h.Broadcast(Event{Type: TypeAudioStart}) }

// OnAudioStop implements [playback.Handler].
func (h *Hub) OnAudioStop() { h.Broadcast(Event{Type: TypeAudioStop}) }

// OnState implements [conversation.Observer].
func (h *Hub) OnState(s conversation.State) {
	h.Broadcast(Event{Type: TypeState, State: s.String()})
}

// OnTurn implements [conversation.Observer].
func (h *Hub) OnTurn(r conversation.TurnResult) {
	ev := Event{Type: TypeTurn, Turn: &r}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	h.Broadcast(ev)
}
