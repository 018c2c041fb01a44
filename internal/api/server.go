// Package api provides the HTTP server fronting the auction engine: cookie
// session auth, the read-only view endpoints, the bidding/release mutation
// endpoints, the bearer-authenticated telemetry sink, and the admin surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpuauction/auctiond/internal/auth"
	"github.com/gpuauction/auctiond/internal/engine"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "gpu_sched_session"

// Server is the auctiond HTTP API server.
type Server struct {
	engine         *engine.Engine
	sessions       *auth.Manager
	telemetryToken string
	metricsEnabled bool
	metrics        *Metrics
}

// NewServer constructs a Server over eng, using sessions for cookie auth and
// telemetryToken as the bearer credential /api/gpu-status requires.
func NewServer(eng *engine.Engine, sessions *auth.Manager, telemetryToken string) *Server {
	return &Server{engine: eng, sessions: sessions, telemetryToken: telemetryToken}
}

// EnableMetrics mounts /metrics and starts recording request counters.
func (s *Server) EnableMetrics() {
	s.metricsEnabled = true
	s.metrics = NewMetrics(func() float64 { return float64(s.engine.DayAdvanceTotal()) })
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(s.updateStateMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/session", s.handleSession)
		r.Get("/gpu-live-status", s.handleGPULiveStatus)
		r.Post("/gpu-status", s.handleGPUStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/overview", s.handleOverview)
			r.Get("/week", s.handleWeek)
			r.Get("/my/summary", s.handleMySummary)
			r.Get("/my/bids", s.handleMyBids)
			r.Get("/history/days", s.handleHistoryDays)
			r.Get("/history/day", s.handleHistoryDay)
			r.Post("/bid", s.handleBid)
			r.Post("/bid/bulk", s.handleBulkBid)
			r.Post("/bid/undo", s.handleUndo)
			r.Post("/slot/release", s.handleRelease)
			r.Post("/slot/release-bulk", s.handleBulkRelease)
			r.Post("/dismiss-outbid", s.handleDismissOutbid)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/users", s.handleAdminCreateUser)
			r.Get("/users", s.handleAdminListUsers)
			r.Post("/users/{username}/enabled", s.handleAdminSetUserEnabled)
			r.Post("/users/{username}/budget", s.handleAdminSetUserBudget)
			r.Post("/policy/transition-hour", s.handleAdminSetTransitionHour)
			r.Post("/policy/hourly-gpu-cap", s.handleAdminSetHourlyGPUCap)
			r.Post("/policy/reserve", s.handleAdminSetReservedSlot)
			r.Post("/reset", s.handleAdminReset)
			r.Get("/export", s.handleAdminExportSchedule)
			r.Get("/export-usage", s.handleAdminExportUsage)
		})
	})

	return r
}

// updateStateMiddleware runs update_system_state ahead of every request:
// every externally triggered request first re-evaluates day-cycle
// transitions before the handler sees the state.
func (s *Server) updateStateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.engine.UpdateSystemState(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
