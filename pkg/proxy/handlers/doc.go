// Package handlers provides the HTTP handlers of the Switchboard front end.
//
//   - StreamHandler: POST of a user message, answered as an event stream of
//     relay frames (connected, delta, processing, heartbeat, then final or
//     error).
//   - ConversationHandler: inspection and invalidation of the conversation
//     handle cached for a user.
//
// Liveness, readiness and metrics are served by the telemetry packages.
//
// Handlers depend on small interfaces (Streamer, Conversations) so they can
// be tested without an upstream.
package handlers
