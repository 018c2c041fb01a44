// Package auth implements password hashing and session-cookie authentication
// for the HTTP transport: PBKDF2-HMAC-SHA256 credential storage and an
// in-memory session table with a sliding TTL renewed on use.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/gpuauction/auctiond/internal/domain"
)

// PBKDF2Iterations and SaltBytes match the password storage contract.
const (
	PBKDF2Iterations = 150_000
	SaltBytes        = 16
	keyLen           = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 hash for password using a fresh
// random salt, returning both hex-encoded.
func HashPassword(password string) (salt, hash string, err error) {
	saltBytes := make([]byte, SaltBytes)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("auth: generate salt: %w", err)
	}
	salt = hex.EncodeToString(saltBytes)
	return salt, deriveHex(password, saltBytes), nil
}

// VerifyPassword reports whether password matches the stored salt/hash pair
// using a constant-time comparison.
func VerifyPassword(password, salt, hash string) bool {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	candidate := deriveHex(password, saltBytes)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1
}

func deriveHex(password string, salt []byte) string {
	derived := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, keyLen, sha256.New)
	return hex.EncodeToString(derived)
}

// Session is one issued login, keyed by an opaque cookie value.
type Session struct {
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TTL is the session lifetime, renewed on every authenticated request.
const TTL = 12 * time.Hour

// Manager is an in-memory session table guarded by its own mutex; sessions
// live outside the durable State snapshot and do not survive a restart.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    domain.Clock
}

// NewManager returns an empty session Manager using clock for "now".
func NewManager(clock domain.Clock) *Manager {
	return &Manager{sessions: make(map[string]*Session), clock: clock}
}

// Issue creates a new session for username and returns its cookie token.
func (m *Manager) Issue(username string) (string, error) {
	token := uuid.NewString()
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = &Session{Username: username, IssuedAt: now, ExpiresAt: now.Add(TTL)}
	return token, nil
}

// Touch validates token, renews its TTL, and returns the session's username.
func (m *Manager) Touch(token string) (string, bool) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || now.After(s.ExpiresAt) {
		if ok {
			delete(m.sessions, token)
		}
		return "", false
	}
	s.ExpiresAt = now.Add(TTL)
	return s.Username, true
}

// Revoke invalidates token, if present.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}
