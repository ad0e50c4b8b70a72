// Package health serves Mira's liveness and readiness probes.
//
// /healthz answers as long as the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers 200 unless a required check
// fails. A failing optional check downgrades the status to "degraded"
// without failing the probe.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mira/internal/resilience"
)

// Report statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional failures degrade the report instead of failing it.
	Optional bool
}

// Optional returns c marked as optional.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers), started: time.Now()}
}

// Evaluate runs every checker concurrently, each under its own deadline
// derived from ctx, and folds the outcomes into a report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Checks[c.Name] = "ok"
			case c.Optional:
				rep.Checks[c.Name] = "degraded: " + err.Error()
				if rep.Status == StatusOK {
					rep.Status = StatusDegraded
				}
			default:
				rep.Checks[c.Name] = "fail: " + err.Error()
				rep.Status = StatusFail
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Healthz always returns 200 with the process uptime.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{
		Status: StatusOK,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz returns 503 when a required check fails and 200 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// ─── Checkers ─────────────────────────────────────────────────────────────────

// Pinger is anything that can probe a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports p's reachability.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerChecker fails when every breaker reported by states is open, that
// is when no backend of the group would currently be tried.
func BreakerChecker(name string, states func() map[string]resilience.State) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		st := states()
		var open []string
		for n, s := range st {
			if s != resilience.StateOpen {
				return nil
			}
			open = append(open, n)
		}
		if len(open) == 0 {
			return nil
		}
		slices.Sort(open)
		return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
	}}
}

// ErrNotReady is returned by [FlagChecker] until the flag is set.
var ErrNotReady = errors.New("not ready")

// FlagChecker reports ready once ready returns true. It suits one-shot
// startup work such as ambient calibration.
func FlagChecker(name string, ready func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ready() {
			return ErrNotReady
		}
		return nil
	}}
}
