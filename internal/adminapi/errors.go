package adminapi

import (
	"errors"
	"net/http"

	"github.com/casarerpa/orchestrator/internal/domain"
	"github.com/casarerpa/orchestrator/internal/queue"
)

// statusFor maps a domain/queue sentinel error to the HTTP status the
// Admin API reports for it, falling back to 500 for anything
// unrecognized.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTenantMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAtCapacity),
		errors.Is(err, domain.ErrDuplicateAssignment),
		errors.Is(err, domain.ErrInvariantViolation),
		errors.Is(err, queue.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
