package api

import (
	"errors"
	"net/http"

	"github.com/gpuauction/auctiond/internal/domain"
)

// writeDomainError maps a domain sentinel error to its HTTP status and error
// kind and writes the JSON error body.
func writeDomainError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	writeError(w, status, kind, err.Error())
}

func classify(err error) (kind string, status int) {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "auth-required", http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthInvalid):
		return "auth-invalid", http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden", http.StatusForbidden
	case errors.Is(err, domain.ErrBadRequest):
		return "bad-request", http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return "not-found", http.StatusNotFound
	case errors.Is(err, domain.ErrDayNotOpen):
		return "day-not-open", http.StatusBadRequest
	case errors.Is(err, domain.ErrSlotReserved):
		return "reserved", http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientCredit):
		return "insufficient-credit", http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidGPU):
		return "bad-request", http.StatusBadRequest
	case errors.Is(err, domain.ErrNotOwner):
		return "not-owner", http.StatusBadRequest
	case errors.Is(err, domain.ErrUndoConflict):
		return "conflict", http.StatusBadRequest
	case errors.Is(err, domain.ErrTooLateToRelease):
		return "too-late-to-release", http.StatusBadRequest
	case errors.Is(err, domain.ErrTelemetryUnauthorized), errors.Is(err, domain.ErrTelemetryTokenUnset):
		return "auth-invalid", http.StatusUnauthorized
	default:
		return "internal", http.StatusInternalServerError
	}
}
