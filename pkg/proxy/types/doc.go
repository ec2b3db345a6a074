// Package types defines the JSON bodies exchanged with Switchboard clients.
//
// Request types:
//   - StreamRequest: body of the streaming chat endpoint
//
// Response types:
//   - ConversationResponse: one cached conversation handle
//   - ForgetResponse: result of a conversation invalidation
//
// Error types:
//   - ErrorResponse: error body returned before a stream opens
//   - ErrorDetail: message, type, code and retry hint
//
// Once a stream is open errors travel in-band as error frames and never use
// these types.
package types
