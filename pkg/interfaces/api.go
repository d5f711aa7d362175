package interfaces

import (
	"context"

	"schoolchat/pkg/types"
)

// API is the REST boundary owned by the backend. The chat client only
// depends on this interface; the concrete client lives in internal/rest.
type API interface {
	// ListConversations returns the session user's conversations. Role
	// scoping is applied client-side by the conversation store; the
	// endpoint itself is unscoped.
	ListConversations(ctx context.Context) ([]*types.Conversation, error)

	// History returns the full message history with one counterpart,
	// ordered by created_at ascending.
	History(ctx context.Context, partnerID string) ([]*types.Message, error)

	// CreateMessage persists a message and returns the server-assigned
	// copy (real id, timestamps, echoed client id). This is the single
	// durable send path.
	CreateMessage(ctx context.Context, receiverID, body, clientID string) (*types.Message, error)

	// DeleteConversation removes the whole thread with one counterpart.
	DeleteConversation(ctx context.Context, partnerID string) error
}
