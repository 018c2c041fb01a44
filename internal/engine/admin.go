package engine

import (
	"github.com/gpuauction/auctiond/internal/domain"
)

// CreateUserInput describes a new account. PasswordSalt/PasswordHash are
// computed by the caller (internal/auth) — the engine never hashes
// passwords itself, keeping domain free of crypto dependencies.
type CreateUserInput struct {
	Username     string
	PasswordSalt string
	PasswordHash string
	Role         domain.Role
	DailyBudget  int
	Balance      float64
}

// CreateUser adds a new enabled account. Returns domain.ErrBadRequest if the
// username is already taken.
func (e *Engine) CreateUser(in CreateUserInput) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	if _, exists := e.state.Users[in.Username]; exists {
		return domain.ErrBadRequest
	}
	e.state.Users[in.Username] = &domain.User{
		Username:     in.Username,
		PasswordSalt: in.PasswordSalt,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		DailyBudget:  in.DailyBudget,
		Balance:      in.Balance,
		Enabled:      true,
	}
	return e.persistLocked()
}

// SetUserEnabled soft-deletes or restores an account.
func (e *Engine) SetUserEnabled(username string, enabled bool) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	u.Enabled = enabled
	return e.persistLocked()
}

// SetUserBudget updates a user's daily budget.
func (e *Engine) SetUserBudget(username string, dailyBudget int) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	u.DailyBudget = dailyBudget
	return e.persistLocked()
}

// SetUserCredentials overwrites a user's stored password salt/hash.
func (e *Engine) SetUserCredentials(username, salt, hash string) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	u.PasswordSalt = salt
	u.PasswordHash = hash
	return e.persistLocked()
}

// ListUsers returns every account, for admin listing endpoints.
func (e *Engine) ListUsers() []*domain.User {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	out := make([]*domain.User, 0, len(e.state.Users))
	for _, u := range e.state.Users {
		out = append(out, u)
	}
	return out
}

// AuthUser returns the stored account for username so the caller can verify
// the password via auth.VerifyPassword against the salt/hash it carries;
// see the api package's login handler for the two-step flow that keeps the
// engine free of a crypto import.
func (e *Engine) AuthUser(username string) (*domain.User, error) {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	return e.userLocked(username)
}

// TouchLastLogin records the login timestamp for username.
func (e *Engine) TouchLastLogin(username string) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	u, err := e.userLocked(username)
	if err != nil {
		return err
	}
	u.LastLogin = e.clock.Now()
	return e.persistLocked()
}

// SetTransitionHour updates the admin-editable calendar anchor. Changing it
// only affects how future instants are grouped into days; already
// keyed slots are untouched.
func (e *Engine) SetTransitionHour(hour int) error {
	if hour < 0 || hour > 23 {
		return domain.ErrBadRequest
	}
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	e.state.Config.TransitionHour = hour
	return e.persistLocked()
}

// SetHourlyGPUCap updates the reserved (never-enforced) policy field.
func (e *Engine) SetHourlyGPUCap(cap *int) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	e.state.Policy.HourlyGPUCap = cap
	return e.persistLocked()
}

// SetReservedSlot marks or clears one (day, slot, gpu) as admin-reserved,
// forbidding bids against it.
func (e *Engine) SetReservedSlot(dayKey, slotKey string, gpu int, reserved bool) error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	if e.state.Policy.ReservedSlots == nil {
		e.state.Policy.ReservedSlots = make(map[string]map[string]bool)
	}
	set, ok := e.state.Policy.ReservedSlots[dayKey]
	if !ok {
		set = make(map[string]bool)
		e.state.Policy.ReservedSlots[dayKey] = set
	}
	key := domain.ReservedKey(slotKey, gpu)
	if reserved {
		set[key] = true
	} else {
		delete(set, key)
	}
	return e.persistLocked()
}

// ResetDays wipes every day from state (FORCE_RESET boot behavior); users,
// policy, and credit balances are untouched. The next UpdateSystemState
// call repopulates the executing day and its six-day open window.
func (e *Engine) ResetDays() error {
	e.locks.State.Lock()
	defer e.locks.State.Unlock()
	e.state.Days = make(map[string]*domain.Day)
	return e.persistLocked()
}
