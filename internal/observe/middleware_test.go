package observe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupHTTP installs an in-memory tracer and the W3C propagator globally and
// returns fresh metrics for the middleware under test.
func setupHTTP(t *testing.T) (*Metrics, func() snapshot, *tracetest.InMemoryExporter) {
	t.Helper()
	m, collect := setup(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	return m, collect, exp
}

func attrString(dp metricdata.HistogramDataPoint[float64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestMiddleware_RouteLabelFromPattern(t *testing.T) {
	m, rm, exp := setupHTTP(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := Middleware(m)(mux)

	for _, id := range []string{"1", "2", "3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	hist, ok := rm()["mira.http.request.duration"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one route)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("count = %d, want 3", dp.Count)
	}
	if got := attrString(dp, "route"); got != "GET /items/{id}" {
		t.Errorf("route = %q", got)
	}
	if got := attrString(dp, "status"); got != "202" {
		t.Errorf("status = %q, want 202", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 3 || spans[0].Name != "HTTP GET /items/{id}" {
		t.Errorf("spans = %d, first name %q", len(spans), spans[0].Name)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, rm, _ := setupHTTP(t)
	h := Middleware(m)(http.NewServeMux())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	dp := rm()["mira.http.request.duration"].(metricdata.Histogram[float64]).DataPoints[0]
	if got := attrString(dp, "route"); got != "unmatched" {
		t.Errorf("route = %q, want unmatched", got)
	}
	if got := attrString(dp, "status"); got != "404" {
		t.Errorf("status = %q, want 404", got)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := setupHTTP(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := setupHTTP(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != traceID {
		t.Errorf("correlation ID = %q, want %q", seen, traceID)
	}
}

// hijackRecorder is an httptest.ResponseRecorder that can be hijacked.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	server, client net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.server, bufio.NewReadWriter(bufio.NewReader(h.server), bufio.NewWriter(h.server)), nil
}

func TestMiddleware_PassesHijack(t *testing.T) {
	m, rm, _ := setupHTTP(t)

	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	w := &hijackRecorder{ResponseRecorder: httptest.NewRecorder(), server: server, client: client}

	var hijackErr error
	var flushed bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, flushed = w.(http.Flusher)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("wrapped writer does not implement http.Hijacker")
			return
		}
		_, _, hijackErr = hj.Hijack()
	}))
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	if hijackErr != nil {
		t.Fatalf("Hijack: %v", hijackErr)
	}
	if !flushed {
		t.Error("wrapped writer does not implement http.Flusher")
	}
	if hist, ok := rm()["mira.http.request.duration"].(metricdata.Histogram[float64]); ok && len(hist.DataPoints) > 0 {
		t.Error("hijacked connection should not record a request duration")
	}
}

func TestMiddleware_UnwrapForResponseController(t *testing.T) {
	m, _, _ := setupHTTP(t)
	rec := httptest.NewRecorder()

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush via ResponseController: %v", err)
		}
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !rec.Flushed {
		t.Error("recorder was not flushed")
	}
}
