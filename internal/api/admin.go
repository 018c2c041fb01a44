package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gpuauction/auctiond/internal/auth"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/engine"
)

type createUserRequest struct {
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	Role        string  `json:"role"`
	DailyBudget int     `json:"daily_budget"`
	Balance     float64 `json:"balance"`
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	role := domain.RoleUser
	if req.Role == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
	}
	salt, hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	in := engine.CreateUserInput{
		Username: req.Username, PasswordSalt: salt, PasswordHash: hash,
		Role: role, DailyBudget: req.DailyBudget, Balance: req.Balance,
	}
	if err := s.engine.CreateUser(in); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users := s.engine.ListUsers()
	type userView struct {
		Username    string `json:"username"`
		Role        string `json:"role"`
		DailyBudget int    `json:"daily_budget"`
		Balance     int    `json:"balance"`
		Enabled     bool   `json:"enabled"`
	}
	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = userView{
			Username: u.Username, Role: string(u.Role),
			DailyBudget: u.DailyBudget, Balance: u.FloorBalance(), Enabled: u.Enabled,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminSetUserEnabled(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.SetUserEnabled(username, req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminSetUserBudget(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req struct {
		DailyBudget int `json:"daily_budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.SetUserBudget(username, req.DailyBudget); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminSetTransitionHour(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hour int `json:"transition_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.SetTransitionHour(req.Hour); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAdminSetHourlyGPUCap stores the reserved policy field. The cap is
// accepted and persisted but not enforced during bid admission.
func (s *Server) handleAdminSetHourlyGPUCap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HourlyGPUCap *int `json:"hourly_gpu_cap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.SetHourlyGPUCap(req.HourlyGPUCap); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminSetReservedSlot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Day      string `json:"day"`
		Slot     string `json:"slot"`
		Gpu      int    `json:"gpu"`
		Reserved bool   `json:"reserved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	if err := s.engine.SetReservedSlot(req.Day, req.Slot, req.Gpu, req.Reserved); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetDays(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAdminExportSchedule serves the schedule CSV:
// slot_id, gpu_index, start_time_utc, end_time_utc, winner_username, final_price.
func (s *Server) handleAdminExportSchedule(w http.ResponseWriter, r *http.Request) {
	dayKey := r.URL.Query().Get("week")
	if dayKey == "" {
		dayKey = r.URL.Query().Get("day")
	}
	rows, err := s.engine.ExportSchedule(dayKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"slot_id", "gpu_index", "start_time_utc", "end_time_utc", "winner_username", "final_price"})
	for _, row := range rows {
		cw.Write([]string{
			row.SlotID,
			strconv.Itoa(row.GpuIndex),
			row.StartUTC.Format(time.RFC3339),
			row.EndUTC.Format(time.RFC3339),
			row.Winner,
			strconv.Itoa(row.Price),
		})
	}
	cw.Flush()
}

// handleAdminExportUsage serves the telemetry-derived usage CSV, adding
// actual_user and match_status columns to the schedule export.
func (s *Server) handleAdminExportUsage(w http.ResponseWriter, r *http.Request) {
	dayKey := r.URL.Query().Get("week")
	if dayKey == "" {
		dayKey = r.URL.Query().Get("day")
	}
	rows, err := s.engine.ExportUsage(dayKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	cw := csv.NewWriter(w)
	cw.Write([]string{"slot_id", "gpu_index", "start_time_utc", "end_time_utc", "winner_username", "final_price", "actual_user", "match_status"})
	for _, row := range rows {
		cw.Write([]string{
			row.SlotID,
			strconv.Itoa(row.GpuIndex),
			row.StartUTC.Format(time.RFC3339),
			row.EndUTC.Format(time.RFC3339),
			row.Winner,
			strconv.Itoa(row.Price),
			row.ActualUser,
			string(row.MatchStatus),
		})
	}
	cw.Flush()
}
