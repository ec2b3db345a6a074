// Package resilience wraps upstream operations with classified retries and
// per-class circuit breakers.
//
// # Retries
//
// Policy describes the attempt budget and an exponential backoff
// (BaseDelay × Multiplier^(n-1), capped at MaxDelay, with ±Jitter). A fresh
// backoff is stepped once per failed attempt so every delay draws its own
// jitter. The Classifier decides which failures are transient;
// DefaultClassifier retries network errors, timeouts and HTTP 5xx/429/408.
//
// # Circuit breaking
//
// Each operation class (create_conversation, open_stream, ...) has a
// Breaker with the states closed, open and half-open. The breaker wraps the
// whole retry loop: an open breaker rejects the call with a
// *CircuitOpenError before the operation runs, and a call that exhausts its
// attempts counts as a single failure. Permanent errors do not count.
//
// # Usage
//
//	guard := resilience.NewGuard(policy, settings, resilience.WithMetrics(collector))
//	conv, err := resilience.Do(ctx, guard, resilience.ClassCreateConversation,
//		func(ctx context.Context) (upstream.Conversation, error) {
//			return client.CreateConversation(ctx, id)
//		})
package resilience
