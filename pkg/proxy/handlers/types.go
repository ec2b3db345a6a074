package handlers

import (
	"context"

	"mercator-hq/switchboard/pkg/chat"
	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/relay"
)

// Streamer runs one chat turn. *chat.Service implements it.
type Streamer interface {
	Stream(ctx context.Context, req chat.Request, transport relay.Transport) error
}

// Conversations exposes the conversation cache. *conversation.Cache
// implements it.
type Conversations interface {
	Get(clientID string) (conversation.Entry, bool)
	Invalidate(ctx context.Context, clientID string) (bool, error)
}
