package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gpuauction/auctiond/internal/auth"
	"github.com/gpuauction/auctiond/internal/domain"
)

type ctxKey int

const ctxUsernameKey ctxKey = iota

// requireUser resolves the session cookie, rejecting the request with
// auth-required if absent or expired, and stashes the username in context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.sessionUsername(r)
		if !ok {
			writeDomainError(w, domain.ErrAuthRequired)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUsernameKey, username)))
	})
}

// requireAdmin additionally checks the resolved user carries the admin role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.sessionUsername(r)
		if !ok {
			writeDomainError(w, domain.ErrAuthRequired)
			return
		}
		u, err := s.engine.AuthUser(username)
		if err != nil || u.Role != domain.RoleAdmin {
			writeDomainError(w, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUsernameKey, username)))
	})
}

func (s *Server) sessionUsername(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	return s.sessions.Touch(cookie.Value)
}

func usernameFromContext(r *http.Request) string {
	v, _ := r.Context().Value(ctxUsernameKey).(string)
	return v
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, domain.ErrBadRequest)
		return
	}
	u, err := s.engine.AuthUser(req.Username)
	if err != nil || !u.Enabled || !auth.VerifyPassword(req.Password, u.PasswordSalt, u.PasswordHash) {
		writeDomainError(w, domain.ErrAuthInvalid)
		return
	}
	token, err := s.sessions.Issue(u.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = s.engine.TouchLastLogin(u.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.TTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": u.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		s.sessions.Revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	username, ok := s.sessionUsername(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": username})
}
