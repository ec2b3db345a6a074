package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/switchboard/pkg/proxy/types"
)

// RecoveryMiddleware recovers from panics in HTTP handlers. It logs the
// panic with its stack and answers 500 unless the response already started,
// in which case the connection is dropped.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw, ok := w.(*responseWriter)
			if !ok {
				rw = newResponseWriter(w)
			}

			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				if rw.written {
					panic(http.ErrAbortHandler)
				}

				errResp := types.NewServerError("An internal error occurred. Please try again later.")
				rw.Header().Set("Content-Type", "application/json")
				rw.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(rw).Encode(errResp)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
