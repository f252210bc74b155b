// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrDuplicate           = errors.New("duplicate entry")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("operation not allowed in current state")
	ErrBalanceExceeded     = errors.New("amount exceeds outstanding balance")
	ErrInsufficientBalance = errors.New("insufficient unallocated balance")
	ErrVersionConflict     = errors.New("concurrent modification detected")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState):
		Problem(w, http.StatusBadRequest, "Invalid State", err.Error())
	case errors.Is(err, ErrBalanceExceeded):
		Problem(w, http.StatusBadRequest, "Balance Exceeded", err.Error())
	case errors.Is(err, ErrInsufficientBalance):
		Problem(w, http.StatusBadRequest, "Insufficient Balance", err.Error())
	case errors.Is(err, ErrVersionConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
