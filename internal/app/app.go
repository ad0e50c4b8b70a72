// Package app wires Mira's subsystems into a running application.
//
// New builds every component from the config and the providers created by
// main; Run starts the long-lived loops under one errgroup; Shutdown tears
// down what Run leaves behind. No component reaches for globals: the input
// device belongs to the listener, the output device to the playback
// controller.
//
// For testing, inject doubles through [Providers] and the functional
// options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mira/internal/avatar"
	"github.com/MrWong99/mira/internal/capture"
	"github.com/MrWong99/mira/internal/config"
	"github.com/MrWong99/mira/internal/conversation"
	"github.com/MrWong99/mira/internal/health"
	"github.com/MrWong99/mira/internal/listener"
	"github.com/MrWong99/mira/internal/observe"
	"github.com/MrWong99/mira/internal/playback"
	"github.com/MrWong99/mira/pkg/audio"
	"github.com/MrWong99/mira/pkg/provider/dialogue"
	"github.com/MrWong99/mira/pkg/provider/stt"
	"github.com/MrWong99/mira/pkg/provider/tts"
	"github.com/MrWong99/mira/pkg/provider/vad"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Providers holds one value per collaborator. All are required. Populated
// by main via the config registry, usually wrapped in resilience groups.
type Providers struct {
	Audio    audio.Platform
	VAD      vad.Engine
	STT      stt.Provider
	TTS      tts.Provider
	Dialogue dialogue.Client

	// Health, when set, adds readiness checks (e.g. breaker states).
	Health []health.Checker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar
	observers []conversation.Observer
	handlers  []playback.Handler

	calibrator *capture.Calibrator
	listener   *listener.Coordinator
	playback   *playback.Controller
	speaker    *playback.Speaker
	cue        *playback.Cue
	conv       *conversation.Coordinator
	hub        *avatar.Hub
	health     *health.Handler
	mux        *http.ServeMux

	calibrated sync.Once
	ready      chan struct{}

	stopOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithObserver adds a conversation observer next to the avatar hub.
func WithObserver(o conversation.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, o) }
}

// WithPlaybackHandler adds a playback handler next to the avatar hub.
func WithPlaybackHandler(h playback.Handler) Option {
	return func(a *App) { a.handlers = append(a.handlers, h) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires all subsystems. It performs no device I/O; calibration happens
// when Run starts the background scan.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}
	a.initListener()
	a.initConversation()
	a.initHTTP()
	return a, nil
}

func (p *Providers) validate() error {
	var errs []error
	if p.Audio == nil {
		errs = append(errs, errors.New("audio platform is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Dialogue == nil {
		errs = append(errs, errors.New("dialogue client is required"))
	}
	return errors.Join(errs...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) inputConfig() audio.InputConfig {
	return audio.InputConfig{
		Device:        a.cfg.Audio.InputDevice,
		SampleRate:    a.cfg.Audio.SampleRate,
		FrameDuration: a.cfg.Audio.FrameDuration,
		QueueSize:     a.cfg.Audio.QueueSize,
	}
}

func (a *App) initPlayback() error {
	a.hub = avatar.NewHub(avatar.WithOriginPatterns(a.cfg.Server.AvatarOrigins...))

	pc := a.cfg.Playback
	opts := []playback.Option{
		playback.WithHandler(append(playback.Handlers{a.hub}, a.handlers...)),
		playback.WithTempPrefix(pc.TempPrefix),
		playback.WithMetrics(a.metrics),
	}
	if pc.TempDir != "" {
		if err := os.MkdirAll(pc.TempDir, 0o755); err != nil {
			return fmt.Errorf("create temp dir %q: %w", pc.TempDir, err)
		}
		opts = append(opts, playback.WithTempDir(pc.TempDir))
	}
	a.playback = playback.NewController(a.providers.Audio, audio.OutputConfig{
		Device:     a.cfg.Audio.OutputDevice,
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   1,
		BlockSize:  pc.BlockSize,
	}, opts...)
	a.speaker = playback.NewSpeaker(a.providers.TTS, a.playback, playback.WithSpeakerMetrics(a.metrics))
	if pc.ProcessingSound != "" {
		a.cue = playback.NewCue(a.playback, pc.ProcessingSound, pc.CueGap)
	}
	return nil
}

func (a *App) initListener() {
	lc := a.cfg.Listener
	in := a.inputConfig()

	margin := capture.DefaultMarginDB
	if lc.MarginDB != nil {
		margin = *lc.MarginDB
	}
	mode := config.DefaultVADMode
	if lc.VADMode != nil {
		mode = *lc.VADMode
	}
	a.calibrator = capture.NewCalibrator(a.providers.Audio, in, capture.WithMargin(margin))
	seg := capture.NewSegmenter(a.providers.VAD, mode, capture.WithVADFrame(in.FrameDuration))

	a.listener = listener.New(a.providers.Audio, in, seg, a.calibrator, a.providers.STT, a.playback,
		listener.WithLanguage(a.cfg.Session.Language),
		listener.WithForeground(listener.Timeouts(lc.Foreground)),
		listener.WithBackground(listener.Timeouts(lc.Background)),
		listener.WithCalibration(lc.Calibration),
		listener.WithKeywords(KeywordSet(a.cfg.Keywords)),
		listener.WithMaxDistance(lc.KeywordMaxDistance),
		listener.WithMetrics(a.metrics),
	)
}

func (a *App) initConversation() {
	sc := a.cfg.Session
	opts := []conversation.Option{
		conversation.WithSessionID(sc.ID),
		conversation.WithGreeting(sc.Greeting),
		conversation.WithThankYouDelay(sc.ThankYouDelay),
		conversation.WithIdleTimeout(sc.IdleTimeout),
		conversation.WithRequireWake(sc.RequireWakeWord),
		conversation.WithObserver(a.hub),
		conversation.WithMetrics(a.metrics),
	}
	if a.cue != nil {
		opts = append(opts, conversation.WithCue(a.cue))
	}
	for _, o := range a.observers {
		opts = append(opts, conversation.WithObserver(o))
	}
	a.conv = conversation.New(a.providers.Dialogue, a.listener, a.speaker, a.playback, opts...)

	// An exit word heard in the background ends the conversation.
	a.listener.SetExitHandler(a.conv.RequestReset)
}

func (a *App) initHTTP() {
	checks := []health.Checker{
		{Name: "input_device", Check: a.listener.InputCheck},
		health.FlagChecker("calibration", a.isCalibrated),
	}
	if p, ok := a.providers.Dialogue.(dialogue.Pinger); ok {
		checks = append(checks, health.PingChecker("dialogue", p))
	}
	checks = append(checks, a.providers.Health...)
	a.health = health.New(checks...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /events", a.hub)
	a.mux = mux
}

// KeywordSet converts the config lists, keeping the built-in defaults for
// any list the config leaves unset.
func KeywordSet(k config.KeywordsConfig) listener.KeywordSet {
	set := listener.DefaultKeywords()
	pick := func(dst *[]string, src []string) {
		if src != nil {
			*dst = src
		}
	}
	pick(&set.Wake, k.Wake)
	pick(&set.Stop, k.Stop)
	pick(&set.Exit, k.Exit)
	pick(&set.Confirm, k.Confirm)
	pick(&set.Cancel, k.Cancel)
	return set
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP surface: /healthz, /readyz, /metrics, /events.
func (a *App) Handler() http.Handler { return observe.Middleware(a.metrics)(a.mux) }

// Conversation returns the turn coordinator.
func (a *App) Conversation() *conversation.Coordinator { return a.conv }

// Listener returns the listening coordinator.
func (a *App) Listener() *listener.Coordinator { return a.listener }

// Playback returns the playback controller.
func (a *App) Playback() *playback.Controller { return a.playback }

// Hub returns the avatar event hub.
func (a *App) Hub() *avatar.Hub { return a.hub }

// isCalibrated is false while the default threshold is in effect.
func (a *App) isCalibrated() bool { return a.calibrator.Threshold().Calibrated }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run calibrates, then runs the background scan, the conversation loop and
// the HTTP server until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
		g.Go(func() error { return a.serve(gctx, ln) })
	}

	g.Go(func() error {
		// The conversation waits for calibration so the greeting is not
		// measured as ambient noise.
		a.listener.Calibrate(gctx)
		a.calibrated.Do(func() { close(a.ready) })
		return a.listener.RunBackground(gctx)
	})
	g.Go(func() error {
		select {
		case <-a.ready:
		case <-gctx.Done():
			return nil
		}
		return a.conv.Run(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serve runs the HTTP surface on ln until ctx is cancelled.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	// Close hub connections first; Shutdown does not wait for hijacked
	// WebSocket connections.
	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change: keyword
// lists, the keyword match distance and the log level. Other changes are
// logged and take effect on restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.KeywordsChanged {
		a.listener.SetKeywords(KeywordSet(new.Keywords))
		a.listener.SetMaxDistance(new.Listener.KeywordMaxDistance)
		slog.Info("keyword lists reloaded")
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(Level(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", d.RestartRequired)
	}
}

// Level maps a config log level onto slog.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops playback, waits for pending temp-file deletions and closes
// the avatar hub. Call it after Run returns.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.hub.Close()
		if cerr := a.playback.Close(ctx); cerr != nil {
			err = fmt.Errorf("app: close playback: %w", cerr)
		}
		slog.Info("shutdown complete")
	})
	return err
}
