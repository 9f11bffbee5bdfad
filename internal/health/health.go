// Package health exposes voxread's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// additionally runs every registered [Checker] — in practice the PlayAI
// voice-agent and TTS endpoint checks wired up in main — and answers 503
// until all of them pass, so a load balancer never routes read-aloud traffic
// to an instance that cannot reach its upstreams. Both respond with a JSON
// body carrying an overall "status" and a per-check "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness check.
const probeTimeout = 5 * time.Second

// Checker probes one upstream dependency. Check returns nil while the
// dependency is usable and must respect context cancellation.
type Checker struct {
	// Name keys this check in the JSON response ("agent", "tts").
	Name string

	Check func(ctx context.Context) error
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so it is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that evaluates checkers, in order, on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. Reaching the handler is the whole check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker and answers 200 only when all pass. Each check
// gets its own [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ready := h.evaluate(r.Context())

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// evaluate runs the checkers sequentially and assembles the probe report.
func (h *Handler) evaluate(ctx context.Context) (report, bool) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	ready := true

	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := c.Check(checkCtx)
		cancel()

		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		rep.Checks[c.Name] = "ok"
	}

	if !ready {
		rep.Status = "fail"
	}
	return rep, ready
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
