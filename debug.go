package lanebus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewDebugHandler returns an HTTP handler exposing the manager's runtime
// state for introspection:
//
//	GET /stats   — lane counters and per-engine subscription counts as JSON
//	GET /metrics — Prometheus exposition for the given gatherer (omitted
//	               when gatherer is nil)
//
// Mount it on an operator-only listener; the handler performs no
// authentication.
func NewDebugHandler(m *Manager, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
