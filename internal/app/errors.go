package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cebarrett/todo/internal/reorder"
	"github.com/cebarrett/todo/internal/store"
	"github.com/cebarrett/todo/internal/todo"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

func invalid(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID", message, nil)
}

// publicInvalid lists validation errors whose message is safe to show callers.
var publicInvalid = []error{
	todo.ErrTextEmpty,
	todo.ErrTextTooLong,
	reorder.ErrEmptySequence,
	reorder.ErrSequenceTooLong,
	reorder.ErrDuplicateID,
	reorder.ErrUnownedID,
	reorder.ErrPartialSequence,
}

// mapError turns any service error into the response the caller sees. Store and
// driver detail never reaches the body.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrPrecondition):
		return http.StatusPreconditionFailed, "PRECONDITION_FAILED", "Item changed since it was read", nil
	case errors.Is(err, store.ErrInvalid):
		for _, known := range publicInvalid {
			if errors.Is(err, known) {
				return http.StatusUnprocessableEntity, "INVALID", known.Error(), nil
			}
		}
		return http.StatusUnprocessableEntity, "INVALID", "Invalid request", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
