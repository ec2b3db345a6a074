package middleware

import (
	"context"
	"time"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/upstream"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// Context keys for storing values in request context. The request ID lives
// under the logging package's key so log records pick it up.
const (
	// StartTimeKey stores the request start time for latency calculation.
	StartTimeKey contextKey = "start_time"

	// IdentityKey stores the upstream.Identity read from headers.
	IdentityKey contextKey = "identity"

	// PriorityKey stores the admission priority read from headers.
	PriorityKey contextKey = "priority"
)

// GetStartTime extracts the request start time from the context.
// Returns zero time if not found.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}

// GetIdentity returns the identity stored by IdentityMiddleware. ok is false
// when the request carried no user header.
func GetIdentity(ctx context.Context) (upstream.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(upstream.Identity)
	return id, ok && id.ClientID != ""
}

// GetPriority returns the admission priority of the request, normal when
// none was given.
func GetPriority(ctx context.Context) admission.Priority {
	if p, ok := ctx.Value(PriorityKey).(admission.Priority); ok {
		return p
	}
	return admission.PriorityNormal
}
