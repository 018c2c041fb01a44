package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. They are mapped to
// HTTP statuses and human messages at the API boundary.

var (
	// Auth errors
	ErrAuthRequired = errors.New("authentication required")
	ErrAuthInvalid  = errors.New("invalid username or password")
	ErrForbidden    = errors.New("forbidden")

	// Request validation
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")

	// Auction errors
	ErrDayNotOpen         = errors.New("day is not open for bidding")
	ErrSlotReserved       = errors.New("slot is reserved")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidGPU         = errors.New("invalid gpu index")
	ErrNotOwner           = errors.New("caller does not own this entry")
	ErrUndoConflict       = errors.New("cannot undo a bid that outbid a different user")

	// Release errors
	ErrTooLateToRelease = errors.New("slot start is too soon to release")

	// Day-cycle errors
	ErrNoOpenDayToAdvance = errors.New("no open day available to promote to executing")

	// Telemetry errors
	ErrTelemetryUnauthorized = errors.New("invalid or missing monitoring bearer token")
	ErrTelemetryTokenUnset   = errors.New("monitoring token not configured")

	// Durable store errors
	ErrStoreCorrupted = errors.New("durable state file is corrupted")
)
