package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
// IDs are opaque backend-assigned strings; the format check only guards
// against empty ids and values that would break URL path segments.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks the role against the four known account kinds.
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	default:
		return false
	}
}

// Validate ensures the message meets all requirements before it is accepted
// into a timeline or handed to the backend.
func (m *Message) Validate() error {
	if !IsValidUserID(m.SenderID) || !IsValidUserID(m.ReceiverID) {
		return ErrInvalidUserID
	}
	if m.SenderID == m.ReceiverID {
		return ErrSelfAddressed
	}
	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Body) == "" {
			return ErrEmptyBody
		}
	case KindFile:
		if m.Attachment == nil || m.Attachment.URL == "" {
			return ErrMissingAttachment
		}
	default:
		return ErrInvalidKind
	}
	if len(m.Body) > 8192 {
		return ErrBodyTooLarge
	}
	return nil
}

// Validate ensures the conversation invariants hold: exactly two distinct
// participants, and the last message no newer than the thread itself.
func (c *Conversation) Validate() error {
	if len(c.ParticipantIDs) != 2 || c.ParticipantIDs[0] == c.ParticipantIDs[1] {
		return ErrInvalidParticipants
	}
	for _, id := range c.ParticipantIDs {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return ErrStaleLastMessage
	}
	return nil
}
