package middleware

import (
	"context"
	"net/http"
	"strings"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/telemetry/logging"
	"mercator-hq/switchboard/pkg/upstream"
)

// IdentityMiddleware reads the client identity, its upstream credential and
// the optional priority from the headers set by the identity collaborator
// in front of Switchboard. Both identity values are opaque. Requests without
// a user header pass through; handlers that need an identity reject them.
func IdentityMiddleware(cfg config.IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			clientID := strings.TrimSpace(r.Header.Get(cfg.UserHeader))
			if clientID != "" {
				ctx = context.WithValue(ctx, IdentityKey, upstream.Identity{
					ClientID:    clientID,
					AccessToken: strings.TrimSpace(r.Header.Get(cfg.TokenHeader)),
				})
				ctx = logging.WithClientID(ctx, clientID)
			}
			if cfg.PriorityHeader != "" {
				if raw := r.Header.Get(cfg.PriorityHeader); raw != "" {
					ctx = context.WithValue(ctx, PriorityKey, admission.ParsePriority(raw))
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
