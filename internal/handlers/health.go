package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"finitefield.org/fashion-storefront/internal/platform/httpx"
)

const readinessTimeout = 2 * time.Second

// HealthCheck probes one dependency for readiness.
type HealthCheck func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	started time.Time
	now     func() time.Time
	checks  map[string]HealthCheck
}

// NewHealthHandlers returns handlers with no readiness checks.
func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{started: time.Now(), now: time.Now, checks: map[string]HealthCheck{}}
}

// WithCheck registers a named readiness check.
func (h *HealthHandlers) WithCheck(name string, check HealthCheck) *HealthHandlers {
	if check != nil {
		h.checks[name] = check
	}
	return h
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.started).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz runs every readiness check and reports 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	httpx.WriteJSON(w, status, body)
}
