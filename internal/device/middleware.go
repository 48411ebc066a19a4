package device

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/stallcode/internal/apperror"
)

// HeaderName carries a client-generated device ID from native clients.
const HeaderName = "X-Device-ID"

// CookieOptions controls the identity cookie set for browsers and how a
// rejected header is reported.
type CookieOptions struct {
	Name   string
	Secure bool
	// OnError writes the response for a malformed X-Device-ID header. Nil
	// means a JSON body of the form {"error", "message", "field"}.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware attaches a device identity to every request context.
//
// RESOLUTION ORDER:
//  1. X-Device-ID header. Native clients generate and persist their own
//     ID; we only check its shape.
//  2. Signed identity cookie from an earlier visit.
//  3. Neither: mint a new ID and set the cookie.
//
// The cookie is re-signed on every browser request so an active device
// never expires.
func Middleware(tokens *TokenService, opts CookieOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	onError := opts.OnError
	if onError == nil {
		onError = writeError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(HeaderName); id != "" {
				if !ValidID(id) {
					onError(w, r, apperror.ValidationFailed(HeaderName, "invalid "+HeaderName+" header"))
					return
				}
				next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
				return
			}

			id := ""
			if cookie, err := r.Cookie(opts.Name); err == nil {
				if verified, err := tokens.Verify(cookie.Value); err == nil {
					id = verified
				} else {
					logger.Debug("discarding device cookie", slog.String("error", err.Error()))
				}
			}
			if id == "" {
				id = NewID()
			}

			if signed, err := tokens.Sign(id, TokenTTL); err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     opts.Name,
					Value:    signed,
					Path:     "/",
					MaxAge:   int(TokenTTL.Seconds()),
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			} else {
				logger.Error("signing device cookie", slog.String("error", err.Error()))
			}

			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}

// writeError is the fallback for CookieOptions.OnError. The server wires in
// the handler package's writer so the API keeps one error shape.
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	body := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
	}{Error: "validation_error", Message: err.Error()}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		body.Field = appErr.Field
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(body)
}
