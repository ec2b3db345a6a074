// Package middleware provides the HTTP middleware of the Switchboard front
// end.
//
// The chain, outermost first:
//
//		RequestID → Recovery → Logging → Identity → tracing → mux
//
//	  - RequestIDMiddleware: assigns or propagates X-Request-ID and stores it
//	    in the context used by the logging package.
//	  - RecoveryMiddleware: turns handler panics into 500 responses, or aborts
//	    the connection when a stream already started.
//	  - LoggingMiddleware: logs completed requests and reports route, status
//	    and latency to a RequestRecorder.
//	  - IdentityMiddleware: reads the client identity, its upstream credential
//	    and the admission priority from configured headers.
package middleware
