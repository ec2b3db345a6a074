// Package conversation keeps each client pinned to one upstream
// conversation.
//
// The Cache resolves a client identity to a conversation handle. A miss
// consults the persistent Store, then the client's most recent upstream
// conversation, and only then creates a new one. Concurrent misses for the
// same client share one resolution, so a client never ends up with two
// conversations because two requests arrived together.
//
// Two stores are available: MemoryStore and SQLiteStore. The Maintainer
// runs on a cron schedule, writing cache activity back to the store and
// pruning handles idle for longer than the retention period.
package conversation
