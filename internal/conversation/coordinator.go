// Package conversation runs the dialogue turn loop: greet, listen, forward
// the transcript to the dialogue service, speak the reply and move between
// states according to the returned intent.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mira/internal/listener"
	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
)

// Defaults.
const (
	DefaultSessionID     = "rasp-pi-001"
	DefaultGreeting      = "สวัสดี"
	DefaultThankYouDelay = 2 * time.Second
	DefaultIdleTimeout   = 60 * time.Second
	DefaultRetryDelay    = time.Second

	panicBackoff = 100 * time.Millisecond
)

// Listener is the microphone side of the loop.
type Listener interface {
	Listen(ctx context.Context, o listener.Options) (string, bool)
	PauseBackground()
	ResumeBackground()
	Wake() <-chan struct{}
	Match(c listener.Class, text string) bool
	// InputCheck reports the outcome of the last attempt to open the
	// microphone.
	InputCheck(ctx context.Context) error
}

// Speaker renders reply SSML.
type Speaker interface {
	Speak(ctx context.Context, text string, ssml bool) error
}

// Player lets the loop wait for a reply to finish before listening.
type Player interface {
	WaitIdle(ctx context.Context) error
}

// Cue is the sound played while the dialogue service works.
type Cue interface {
	Start()
	Stop()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSessionID sets the dialogue session identifier.
func WithSessionID(id string) Option {
	return func(c *Coordinator) { c.sessionID = id }
}

// WithGreeting sets the text sent to the service in GREETING.
func WithGreeting(text string) Option {
	return func(c *Coordinator) { c.greeting = text }
}

// WithThankYouDelay sets the pause in THANK_YOU before the conversation ends.
func WithThankYouDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.thankYouDelay = d }
}

// WithIdleTimeout ends the conversation after d without a captured
// utterance. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.idleTimeout = d }
}

// WithRetryDelay sets the pause before listening again after the input
// device failed to open.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.retryDelay = d }
}

// WithRequireWake makes START wait for a wake word.
func WithRequireWake(v bool) Option {
	return func(c *Coordinator) { c.requireWake = v }
}

// WithCue sets the processing cue.
func WithCue(cue Cue) Option {
	return func(c *Coordinator) { c.cue = cue }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// WithMetrics records turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator owns the conversation state. Run it on one goroutine; State
// and RequestReset may be called from anywhere.
type Coordinator struct {
	client  dialogue.Client
	lis     Listener
	speaker Speaker
	player  Player
	cue     Cue
	metrics *observe.Metrics

	sessionID     string
	greeting      string
	thankYouDelay time.Duration
	idleTimeout   time.Duration
	retryDelay    time.Duration
	requireWake   bool

	obsMu     sync.Mutex
	observers []Observer

	state        atomic.Int32
	reset        atomic.Bool
	lastActivity time.Time
}

// New returns a Coordinator in START.
func New(client dialogue.Client, lis Listener, speaker Speaker, player Player, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:        client,
		lis:           lis,
		speaker:       speaker,
		player:        player,
		sessionID:     DefaultSessionID,
		greeting:      DefaultGreeting,
		thankYouDelay: DefaultThankYouDelay,
		idleTimeout:   DefaultIdleTimeout,
		retryDelay:    DefaultRetryDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AddObserver registers o after construction.
func (c *Coordinator) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// RequestReset makes the loop return to START at the next step boundary.
func (c *Coordinator) RequestReset() {
	slog.Info("conversation reset requested")
	c.reset.Store(true)
}

func (c *Coordinator) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	slog.Debug("conversation state", "state", s)
	for _, o := range c.snapshotObservers() {
		o.OnState(s)
	}
}

func (c *Coordinator) snapshotObservers() []Observer {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	return append([]Observer(nil), c.observers...)
}

// Run drives the state loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx = observe.WithSession(ctx, c.sessionID)
	slog.Info("conversation loop started", "session_id", c.sessionID)
	defer slog.Info("conversation loop stopped")

	for ctx.Err() == nil {
		if c.reset.Swap(false) {
			c.setState(StateStart)
		}
		if !c.stepSafe(ctx) {
			if err := sleepCtx(ctx, panicBackoff); err != nil {
				break
			}
		}
	}
	return nil
}

// stepSafe runs one step and reports false if it panicked.
func (c *Coordinator) stepSafe(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("conversation step panicked", "state", c.State(), "panic", r)
			ok = false
		}
	}()
	c.step(ctx)
	return true
}

func (c *Coordinator) step(ctx context.Context) {
	switch c.State() {
	case StateStart:
		c.start(ctx)
	case StateGreeting:
		c.turn(ctx, c.greeting, StateGreeting)
	case StateListening, StateConfirming:
		c.listenTurn(ctx)
	case StateThankYou:
		if sleepCtx(ctx, c.thankYouDelay) == nil {
			c.setState(StateEnd)
		}
	case StateEnd:
		c.setState(StateStart)
	}
}

func (c *Coordinator) start(ctx context.Context) {
	if err := c.client.Reset(ctx, c.sessionID); err != nil {
		observe.Logger(ctx).Warn("dialogue session reset failed", "err", err)
	}
	if c.requireWake {
		slog.Info("waiting for wake word")
		select {
		case <-c.lis.Wake():
		case <-ctx.Done():
			return
		}
	}
	c.lastActivity = time.Now()
	c.setState(StateGreeting)
}

func (c *Coordinator) idle() bool {
	return c.idleTimeout > 0 && time.Since(c.lastActivity) > c.idleTimeout
}

// listenTurn captures one utterance and forwards it.
func (c *Coordinator) listenTurn(ctx context.Context) {
	if c.idle() {
		slog.Info("conversation idle, ending", "idle_timeout", c.idleTimeout)
		c.setState(StateEnd)
		return
	}
	confirming := c.State() == StateConfirming

	// Background stop words stay live until the reply has finished.
	if c.player != nil {
		if err := c.player.WaitIdle(ctx); err != nil {
			return
		}
	}
	c.lis.PauseBackground()
	text, ok := c.lis.Listen(ctx, listener.Options{SkipIfSpeaking: true})
	c.lis.ResumeBackground()
	if !ok {
		if err := c.lis.InputCheck(ctx); err != nil && ctx.Err() == nil {
			_ = sleepCtx(ctx, c.retryDelay)
		}
		return
	}
	c.lastActivity = time.Now()

	if c.reset.Load() {
		return
	}
	if c.lis.Match(listener.ClassExit, text) {
		slog.Info("exit word heard, ending conversation", "text", text)
		c.setState(StateEnd)
		return
	}

	from := StateListening
	if confirming {
		from = StateConfirming
	}
	c.turn(ctx, text, from)

	if confirming && c.lis.Match(listener.ClassCancel, text) && c.State() != StateListening {
		c.setState(StateListening)
	}
}

// turn forwards text, speaks the reply and applies the intent transition.
func (c *Coordinator) turn(ctx context.Context, text string, from State) {
	ctx, span := observe.StartSpan(ctx, "conversation.turn")
	defer span.End()
	log := observe.Logger(ctx).With("state", from)

	cue := c.cue
	if from == StateGreeting {
		cue = nil
	}
	if cue != nil {
		cue.Start()
	}
	reply, err := c.ask(ctx, text)
	if cue != nil {
		cue.Stop()
	}

	if err != nil && !(errors.Is(err, dialogue.ErrEmptyReply) && reply != nil) {
		if ctx.Err() != nil {
			return
		}
		observe.FailSpan(span, err)
		log.Error("dialogue request failed", "err", err)
		c.metrics.RecordTurn(ctx, "error")
		c.notify(TurnResult{UserText: text, Next: StateListening, Err: err})
		c.setState(StateListening)
		return
	}

	next := nextState(reply.Intent)
	log.Info("dialogue reply", "intent", reply.Intent, "next", next)
	c.metrics.RecordTurn(ctx, reply.Intent)
	c.notify(TurnResult{
		UserText:     text,
		Intent:       reply.Intent,
		ResponseSSML: reply.ResponseSSML,
		Orders:       reply.Orders,
		TotalPrice:   reply.TotalPrice,
		Discount:     reply.Discount,
		Next:         next,
	})

	if reply.ResponseSSML != "" {
		if err := c.speaker.Speak(ctx, reply.ResponseSSML, true); err != nil {
			log.Error("speaking reply failed", "err", err)
		}
	}
	c.setState(next)
}

func (c *Coordinator) ask(ctx context.Context, text string) (*dialogue.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "dialogue.ask")
	defer span.End()
	start := time.Now()
	reply, err := c.client.Ask(ctx, c.sessionID, text)
	if c.metrics != nil {
		observe.ObserveSince(ctx, c.metrics.DialogueDuration, start)
	}
	return reply, err
}

func (c *Coordinator) notify(r TurnResult) {
	for _, o := range c.snapshotObservers() {
		o.OnTurn(r)
	}
}

// nextState maps a reply intent to the following state.
func nextState(intent string) State {
	switch intent {
	case dialogue.IntentThankYou:
		return StateThankYou
	case dialogue.IntentConfirmOrder:
		return StateConfirming
	default:
		return StateListening
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
