// Package apperror defines the error kinds every layer agrees on.
//
// Services return an *AppError wrapping one of the sentinel kinds below.
// Callers branch with errors.Is(err, apperror.ErrDuplicate) and friends;
// handlers map kinds to HTTP statuses in one place.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("Validation Error")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrDuplicate   = errors.New("likely duplicate")
	ErrSelfVote    = errors.New("self vote")
	ErrUnavailable = errors.New("unavailable")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, kept for logs only
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Duplicate reports that the same code already exists close by.
func Duplicate(code string, radiusMeters float64) *AppError {
	return &AppError{
		Err:     ErrDuplicate,
		Message: fmt.Sprintf("code %q already exists within %.0f m", code, radiusMeters),
		Field:   "code",
	}
}

// SelfVote reports that a device tried to vote on its own submission.
func SelfVote(codeID string) *AppError {
	return &AppError{
		Err:     ErrSelfVote,
		Message: fmt.Sprintf("cannot vote on your own code %s", codeID),
	}
}

// Unavailable reports that a remote dependency (store, device identity)
// failed. The cause is kept for logging but not shown to users.
func Unavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s failed, please try again", op),
		Cause:   cause,
	}
}
