package interfaces

import "errors"

// Shared sentinel errors used across component boundaries.
var (
	ErrNotConnected         = errors.New("realtime channel is not connected")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoActiveConversation = errors.New("no conversation is open")
)
