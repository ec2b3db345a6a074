// Package chat orchestrates one streamed chat turn.
//
// A turn acquires an admission slot, resolves the client's conversation,
// opens the upstream stream through the resilience guard, relays it to the
// client, reconciles follow-up questions and sends the terminal frame. The
// slot is released however the turn ends.
package chat
