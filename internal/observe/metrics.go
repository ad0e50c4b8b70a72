// Package observe provides application-wide observability primitives for
// Mira: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for scraping on /metrics via the Prometheus bridge set up by
// [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// --- Latency histograms ---

	// CaptureDuration tracks the audio length of captured utterances.
	CaptureDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// DialogueDuration tracks dialogue service round trips.
	DialogueDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts capture runs by stop reason:
	//   attribute.String("reason", ...), attribute.String("mode", "foreground"|"background")
	Utterances metric.Int64Counter

	// PlaybackSessions counts finished playback sessions by outcome:
	//   attribute.String("outcome", "completed"|"stopped"|"superseded"|"failed")
	PlaybackSessions metric.Int64Counter

	// Turns counts dialogue turns by intent.
	Turns metric.Int64Counter

	// Keywords counts background keyword hits by class (wake, stop, exit).
	Keywords metric.Int64Counter

	// InputOverruns counts capture frames dropped by the driver callback.
	InputOverruns metric.Int64Counter

	// ProviderRequests counts provider API calls:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlayback is 1 while audio is being played.
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// matched route and status code. Hijacked requests are not recorded.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries (seconds) tuned for voice
// round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(instrumentationName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.CaptureDuration, err = histogram("mira.capture.duration", "Audio length of captured utterances."); err != nil {
		return nil, err
	}
	if met.STTDuration, err = histogram("mira.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.DialogueDuration, err = histogram("mira.dialogue.duration", "Latency of dialogue service requests."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("mira.tts.duration", "Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("mira.capture.utterances",
		metric.WithDescription("Capture runs by stop reason and listening mode."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSessions, err = m.Int64Counter("mira.playback.sessions",
		metric.WithDescription("Finished playback sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("mira.dialogue.turns",
		metric.WithDescription("Dialogue turns by intent."),
	); err != nil {
		return nil, err
	}
	if met.Keywords, err = m.Int64Counter("mira.listener.keywords",
		metric.WithDescription("Background keyword detections by class."),
	); err != nil {
		return nil, err
	}
	if met.InputOverruns, err = m.Int64Counter("mira.capture.overruns",
		metric.WithDescription("Capture frames dropped because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("mira.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mira.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActivePlayback, err = m.Int64UpDownCounter("mira.playback.active",
		metric.WithDescription("Number of playback sessions currently writing audio."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mira.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call with the standard attributes.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records the outcome of one capture run and, when audio
// was captured, its length.
func (m *Metrics) RecordUtterance(ctx context.Context, mode, reason string, audioLen time.Duration) {
	if m == nil {
		return
	}
	m.Utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("reason", reason),
	))
	if audioLen > 0 {
		m.CaptureDuration.Record(ctx, audioLen.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordPlayback records one finished playback session.
func (m *Metrics) RecordPlayback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.PlaybackSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTurn records one dialogue turn.
func (m *Metrics) RecordTurn(ctx context.Context, intent string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

// RecordKeyword records one background keyword hit.
func (m *Metrics) RecordKeyword(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.Keywords.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordOverruns adds n dropped capture frames.
func (m *Metrics) RecordOverruns(ctx context.Context, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.InputOverruns.Add(ctx, int64(n))
}

// PlaybackActive adjusts the active playback gauge by delta.
func (m *Metrics) PlaybackActive(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActivePlayback.Add(ctx, delta)
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}
