// Package proxy is the HTTP face of Switchboard.
//
// It parses chat requests, maps failures that happen before a stream opens
// to JSON error responses, and provides SSETransport, the relay.Transport
// that writes frames to a response as server-sent events:
//
//	event: delta
//	data: {"content":"Hello wor"}
//
// Handlers live in the handlers subpackage and cross-cutting concerns
// (request IDs, identity, logging, panic recovery) in middleware.
//
// # Error Responses
//
// Errors answered with a status code share one body:
//
//	{"error": {"message": "...", "type": "service_unavailable", "code": "capacity_exceeded", "retry_after": 1}}
//
// Capacity, queue timeout and open circuits answer 503 or 429 with a
// Retry-After header. Once the first frame was written every failure is an
// error frame instead.
package proxy
