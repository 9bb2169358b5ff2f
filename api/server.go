/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request line (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the operator console
  5. Actor:      Caller identity from the gateway headers (401 without)

ROUTE GROUPS:
  /api/shifts/*         Caller's shift lifecycle
  /api/processors/*     Per-processor history and earnings
  /api/deposits/*       Deposit approval hook (admin/system)
  /api/admin/*          Sweeps, settings, shift types, bonus rules
  /healthz              Liveness, no identity required

SEE ALSO:
  - handlers.go: Handler implementations
  - actor.go: Caller identity
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/core"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(resolveActor(h.cfg.Actors))

		r.Route("/shifts", func(r chi.Router) {
			r.Post("/start", h.StartShift)
			r.Post("/end", h.EndShift)
			r.Get("/current", h.CurrentShift)
			r.Get("/{id}/earnings", h.ShiftEarnings)
		})

		r.Route("/processors/{id}", func(r chi.Router) {
			r.Get("/shifts", h.ListShifts)
			r.Get("/earnings", h.ListEarnings)
			r.Get("/earnings/breakdown", h.EarningsBreakdown)
		})

		r.With(requireRole(core.RoleAdmin, core.RoleSystem)).
			Post("/deposits/{id}/approved", h.DepositApproved)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(core.RoleAdmin, core.RoleSystem))

			r.Post("/sweep", h.Sweep)
			r.Post("/sweep/missed", h.SweepMissed)
			r.Get("/sweep/runs", h.ListSweepRuns)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Get("/shift-types", h.ListShiftTypes)
			r.Put("/shift-types", h.UpdateShiftType)
			r.Get("/eligibility", h.ListEligibility)
			r.Put("/processors/{id}/shift-types", h.SetEligibility)

			r.Get("/grid-rules", h.ListGridRules)
			r.Post("/grid-rules", h.SaveGridRule)
			r.Get("/motivations", h.ListMotivations)
			r.Post("/motivations", h.SaveMotivation)
			r.Patch("/motivations/{id}", h.SetMotivationActive)
		})
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
