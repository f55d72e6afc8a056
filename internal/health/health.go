// Package health serves the liveness and readiness probes of the call server.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only while the server is not draining and every
//     registered [Checker] passes. Checkers run concurrently.
//
// Both respond with {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// ErrDraining is reported by /readyz once the server started shutting down.
var ErrDraining = errors.New("server is draining")

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining marks the server as shutting down so load balancers stop
// routing new calls to it.
func (h *Handler) SetDraining(v bool) { h.draining.Store(v) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	if h.draining.Load() {
		res.Checks["server"] = "fail: " + ErrDraining.Error()
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			status := "ok"
			if err := c.Check(cctx); err != nil {
				status = "fail: " + err.Error()
			}
			mu.Lock()
			res.Checks[c.Name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	for _, s := range res.Checks {
		if s != "ok" {
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Capacity fails once active reaches limit. A limit of zero never fails.
func Capacity(active func() int, limit int) Checker {
	return Checker{Name: "calls", Check: func(context.Context) error {
		if n := active(); limit > 0 && n >= limit {
			return fmt.Errorf("at capacity (%d/%d)", n, limit)
		}
		return nil
	}}
}

// Catalog fails while no character can be called.
func Catalog(count func() int) Checker {
	return Checker{Name: "characters", Check: func(context.Context) error {
		if count() == 0 {
			return errors.New("no characters configured")
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
