// Package logging provides structured logging with credential redaction.
//
// # Overview
//
// The package wraps log/slog:
//   - JSON and text output
//   - request-scoped fields (request_id, client_id, session_id,
//     conversation_id) copied from the context onto every record
//   - masking of access tokens and bearer credentials
//   - a level that can be changed while the process runs
//
// # Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json", RedactSecrets: true})
//	log := logger.Slog()
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	log.InfoContext(ctx, "stream opened", "access_token", token) // access_token is masked
//
// Components accept a *slog.Logger; the context fields are added by the
// handler, so any logger derived from Slog() carries them.
package logging
