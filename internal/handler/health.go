package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HandleHealth returns a liveness handler. With a nil pinger it always
// reports ok.
//
// HTTP: GET /healthz → {"status":"ok"} or 503 {"status":"unavailable"}
func HandleHealth(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
