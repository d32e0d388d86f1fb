package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors shared across domain layers.
var (
	// ErrUnauthenticated indicates no verified principal on the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the principal was verified but the decision is deny.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed management request.
	ErrValidation = errors.New("validation failed")
	// ErrIsolation indicates a cross-tenant reference was rejected. Always
	// fatal to the write, never silently scoped down.
	ErrIsolation = errors.New("tenant isolation violation")
	// ErrConflict indicates a duplicate or conflicting write.
	ErrConflict = errors.New("conflict")
)

// RespondError maps domain errors to RFC7807 responses. Forbidden responses
// carry a deliberately generic detail so callers cannot enumerate which
// constraint failed.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.Is(err, ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthenticated", "no verified principal")
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "access denied")
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &fieldErrs):
		Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrIsolation):
		Problem(w, http.StatusConflict, "Isolation Violation", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
