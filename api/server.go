/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind the proxy
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Per-request deadline
  5. CORS:       Cross-origin requests for the dashboard frontend
  6. zerolog:    Structured request logging

ROUTE GROUPS:
  /api/appointments/*   Lifecycle commands, history, conflict dry-runs
  /api/clients/*        Unit-balance projections
  /api/team/*           Availability slots
  /metrics              Prometheus metrics
  /healthz              Liveness

SECURITY NOTE:
  Identity arrives pre-verified from the upstream auth proxy as
  X-Actor-* headers. There is no token handling in this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-ID", "X-Actor-Team", "X-Actor-Roles"},
		AllowCredentials: true,
	}))
	r.Use(requestLogger(opts.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.Book)
			r.Post("/check-conflicts", h.CheckConflicts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Get("/history", h.History)
				r.Post("/start", h.Start)
				r.Post("/complete", h.Complete)
				r.Post("/cancel", h.Cancel)
				r.Post("/assign-self", h.AssignSelf)
				r.Post("/delete", h.Delete)
				r.Post("/reschedule", h.Reschedule)
				r.Post("/reassign", h.Reassign)
				r.Post("/override-times", h.OverrideTimes)
				r.Post("/link-transportation", h.LinkTransportation)
				r.Post("/unlink-transportation", h.UnlinkTransportation)
			})
		})

		r.Get("/clients/{id}/unit-balance", h.UnitBalance)
		r.Get("/team/{id}/availability", h.TeamAvailability)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// SplitOrigins turns the comma-separated CORS config value into a list.
func SplitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
