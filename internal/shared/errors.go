package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found, or owned by another tenant.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness collision or an illegal state transition.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientBalance indicates a payment larger than the open balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientStock indicates a movement that would drive stock negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIsolationViolation indicates a record owned by another tenant reached the caller.
	ErrIsolationViolation = errors.New("tenant isolation violation")
	// ErrForbidden indicates the tenant or actor may not operate.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a request without identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// Validationf wraps ErrValidation with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns an error text that is safe to show to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIsolationViolation):
		return ErrNotFound.Error()
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthorized):
		return err.Error()
	default:
		return "internal error"
	}
}
