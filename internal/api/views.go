package api

import (
	"net/http"
	"strconv"

	"github.com/gpuauction/auctiond/internal/domain"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	overview, err := s.engine.Overview(username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// handleWeek serves the day-grid under the legacy `week` query param name
// documented as "GET /api/week?week=…&day=…" — the field is a day key,
// not a week, a holdover from the prior weekly-bidding scheme.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	dayKey := r.URL.Query().Get("week")
	if dayKey == "" {
		dayKey = r.URL.Query().Get("day")
	}
	if dayKey == "" {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	grid, err := s.engine.DayGrid(username, dayKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *Server) handleMySummary(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	summary, err := s.engine.MySummary(username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMyBids(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	bids, err := s.engine.MyBids(username, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (s *Server) handleHistoryDays(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	history, err := s.engine.History(username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleHistoryDay(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r)
	dayKey := r.URL.Query().Get("date")
	if dayKey == "" {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	grid, err := s.engine.DayGrid(username, dayKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}
