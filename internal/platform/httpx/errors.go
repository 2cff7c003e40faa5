// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Isolation violations are reported as plain not-found.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrIsolationViolation):
		Problem(w, http.StatusNotFound, "Not Found", shared.ErrNotFound.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientBalance):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Balance", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
