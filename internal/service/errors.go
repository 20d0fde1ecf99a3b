package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown approval request ids.
	ErrNotFound = errors.New("approval request not found")
	// ErrStateConflict is returned for actions the request's current state does not allow.
	ErrStateConflict = errors.New("state conflict")
	// ErrForbidden is returned when the actor may not perform the action.
	ErrForbidden = errors.New("not authorized")
	// ErrRaceLost is returned when concurrent writers kept winning the
	// compare-and-swap. Safe for the caller to retry.
	ErrRaceLost = errors.New("request was modified concurrently, retry later")
	// ErrAuditUnavailable is returned when an action that must be audited
	// could not be recorded.
	ErrAuditUnavailable = errors.New("audit log unavailable")
)

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports invalid caller input. The request, if any, is left untouched.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return ""
	}
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return e.Err.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error { return e.Err }

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
