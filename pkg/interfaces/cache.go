package interfaces

import (
	"context"

	"schoolchat/pkg/types"
)

// MessageCache is the optional local store that lets a re-opened
// conversation render warm while the authoritative history fetch is in
// flight. Implementations must tolerate duplicate puts of the same id.
type MessageCache interface {
	// PutMessages upserts server-confirmed messages. Pending messages
	// (no server id) must not be stored.
	PutMessages(ctx context.Context, messages []*types.Message) error

	// ConversationHistory returns cached messages between the two users,
	// ordered by created_at ascending.
	ConversationHistory(ctx context.Context, selfID, partnerID string) ([]*types.Message, error)

	// DeleteConversation drops all cached messages between the two users.
	DeleteConversation(ctx context.Context, selfID, partnerID string) error

	Close() error
}
