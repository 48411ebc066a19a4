package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// writeError, so the API has one error shape:
//
//	{"error": "duplicate", "message": "code \"1234\" already exists within 50 m", "field": "code"}
//
// writeError is also the only place where error kinds become HTTP status
// codes. The service layer never sees HTTP.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/stallcode/internal/apperror"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`           // machine-readable kind
	Message string `json:"message"`         // human-readable description
	Field   string `json:"field,omitempty"` // offending input field, if any
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps an error kind to its HTTP status and wire name.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrSelfVote):
		return http.StatusForbidden, "self_vote"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// WriteError is writeError in the shape middleware hooks expect, e.g.
// device.CookieOptions.OnError.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, err)
}

// writeError sends the JSON error for err. Only *apperror.AppError
// messages reach the client; anything else becomes a generic 500 so SQL
// or file paths never leak.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, kind := errorStatus(err)
	writeJSON(w, status, ErrorResponse{
		Error:   kind,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
