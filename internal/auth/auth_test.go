package auth

import (
	"testing"
	"time"

	"github.com/gpuauction/auctiond/internal/domain"
)

func TestHashAndVerifyPassword(t *testing.T) {
	salt, hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("hunter2", salt, hash) {
		t.Fatal("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Fatal("VerifyPassword accepted an incorrect password")
	}
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	salt1, hash1, _ := HashPassword("samepassword")
	salt2, hash2, _ := HashPassword("samepassword")
	if salt1 == salt2 || hash1 == hash2 {
		t.Fatal("two hashes of the same password must use independent random salts")
	}
}

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func() time.Time { return t })
}

func TestSessionManager_IssueAndTouch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := NewManager(fixedClock(now))

	token, err := mgr.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	user, ok := mgr.Touch(token)
	if !ok || user != "alice" {
		t.Fatalf("Touch = (%q, %v), want (alice, true)", user, ok)
	}
}

func TestSessionManager_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := NewManager(fixedClock(now))
	token, _ := mgr.Issue("alice")

	mgr.clock = fixedClock(now.Add(TTL + time.Second))
	if _, ok := mgr.Touch(token); ok {
		t.Fatal("Touch accepted a session past its TTL")
	}
}

func TestSessionManager_Revoke(t *testing.T) {
	mgr := NewManager(fixedClock(time.Now()))
	token, _ := mgr.Issue("alice")
	mgr.Revoke(token)
	if _, ok := mgr.Touch(token); ok {
		t.Fatal("Touch accepted a revoked session")
	}
}
