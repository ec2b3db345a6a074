// Package upstream defines the contract Switchboard consumes from the
// conversational-AI provider and an HTTP implementation of it.
//
// # Client
//
// Client exposes five operations: CreateConversation,
// ListRecentConversations, OpenChatStream, GetVariables and SetVariables.
// Each call is a single attempt; retry and circuit breaking live in
// package resilience.
//
// # Events
//
// OpenChatStream returns an EventStream, a pull-style iterator:
//
//	stream, err := client.OpenChatStream(ctx, req)
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//
//	for {
//		ev, err := stream.Next(ctx)
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// Vendor event names and payload fields are decoded with gjson inside this
// package; callers only see the Event kind (delta, completed,
// session-completed, terminal, error) and the message type.
//
// # Errors
//
// Failures are reported as typed errors: ProviderError, AuthError,
// RateLimitError, TimeoutError, NetworkError, ParseError and StreamError.
// Errors carrying an HTTP status expose it through an HTTPStatus method.
package upstream
