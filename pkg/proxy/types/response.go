package types

import "time"

// ConversationResponse describes the conversation handle cached for a user.
type ConversationResponse struct {
	ClientID       string    `json:"client_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccess     time.Time `json:"last_access"`
	AccessCount    int64     `json:"access_count"`
}

// ForgetResponse is returned by the invalidation endpoint.
type ForgetResponse struct {
	ClientID  string `json:"client_id"`
	Forgotten bool   `json:"forgotten"`
}
