// Package httpapi wires the rig's HTTP surface: a liveness probe, a
// Prometheus scrape endpoint, a JSON status snapshot, and the display
// window's WebSocket preview — following the teacher's chi + go-chi/cors
// router shape (internal/api.NewRouter).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc produces the current rig status snapshot, assembled by
// the wiring layer from camera/motion/motor/display state.
type StatusFunc func() any

// NewRouter builds the rig's HTTP handler. gatherer is typically the
// prometheus.Registry passed to metrics.New; display may be nil if the
// live preview window isn't wired up.
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc, display http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status == nil {
			w.Write([]byte(`{}`))
			return
		}
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	if display != nil {
		r.Handle("/ws/display", display)
	}

	return r
}
