// Package server provides the relay's HTTP server.
//
// It routes the streaming chat endpoint, the conversation inspection
// endpoints and the operational probes, wraps them in the middleware chain
// and manages the listener lifecycle including graceful shutdown.
//
// # Routes
//
//   - POST <stream_path> - streamed chat turn (default /v1/chat/stream)
//   - GET, DELETE /v1/conversations/{user} - inspect or forget a client's conversation
//   - GET /health - liveness probe
//   - GET /ready - readiness probe, fails while draining or when a check fails
//   - GET /version - build information
//   - GET <metrics_path> - Prometheus scrape endpoint, when metrics are enabled
//
// # Middleware Chain
//
// Outermost to innermost:
//  1. RequestID: assigns or reuses X-Request-ID
//  2. Recovery: turns handler panics into 500 responses
//  3. Logging: request log line and HTTP metrics by route pattern
//  4. Identity: reads the client identity and upstream credential headers
//  5. Trace context: joins the caller's trace
//
// # Graceful Shutdown
//
// Start returns after SIGINT, SIGTERM, context cancellation or Stop. The
// shutdown sequence:
//  1. Readiness starts reporting "draining"
//  2. The admission controller is closed, rejecting queued requests
//  3. The listener stops and open streams get the shutdown timeout to finish
//  4. Remaining connections are closed
//
// Usage:
//
//	srv := server.NewServer(cfg, server.Deps{
//	    Streamer:      chatService,
//	    Conversations: cache,
//	    Health:        checker,
//	    Admission:     controller,
//	    Metrics:       collector,
//	    Logger:        logger,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
package server
