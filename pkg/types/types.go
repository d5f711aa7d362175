package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Role identifies the kind of account a chat participant holds.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// MessageKind distinguishes plain text messages from file attachments.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// Realtime event names exchanged over the websocket channel. The names are
// part of the wire contract with the backend and must not change.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
	EventNewMessage  = "newMessage"
	EventUserTyping  = "userTyping"
)

// User is a chat participant as supplied by the directory service.
// The chat subsystem treats users as read-only.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	GradeLabel  string `json:"grade_label,omitempty"`
}

// Attachment describes the file carried by a file-kind message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Message is a single chat message between exactly two users.
// Messages are append-only from the client's perspective.
//
// ClientID is a client-generated correlation id set at send time. The server
// echoes it back on the created message so the sender can match its
// optimistic copy against the authoritative one regardless of which path
// (REST response or realtime push) delivers it first.
type Message struct {
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id,omitempty"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Read       bool        `json:"read"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Pending reports whether the message is an optimistic local copy that has
// not yet been confirmed by the server.
func (m *Message) Pending() bool {
	return m.ID == "" && m.ClientID != ""
}

// InvolvesPair reports whether the message belongs to the conversation
// between the two given users, in either direction.
func (m *Message) InvolvesPair(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Conversation is the persistent two-party thread entity. Exactly one
// conversation exists per unordered pair of participants.
type Conversation struct {
	ID                string         `json:"id"`
	ParticipantIDs    []string       `json:"participant_ids"`
	LastMessage       *Message       `json:"last_message,omitempty"`
	UnreadCountByUser map[string]int `json:"unread_count_by_user,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Counterpart returns the participant that is not selfID, or "" if selfID is
// not a participant.
func (c *Conversation) Counterpart(selfID string) string {
	for _, id := range c.ParticipantIDs {
		if id != selfID {
			return id
		}
	}
	return ""
}

// Unread returns the unread count for the given user.
func (c *Conversation) Unread(userID string) int {
	if c.UnreadCountByUser == nil {
		return 0
	}
	return c.UnreadCountByUser[userID]
}

// PairKey builds the canonical identity of an unordered participant pair.
// Indexing conversations by pair key is what keeps the store free of
// duplicate entries for the same two users.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// PairKey returns the canonical key of the conversation's participant pair.
func (c *Conversation) PairKey() string {
	ids := append([]string(nil), c.ParticipantIDs...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// TypingSignal is the ephemeral "user X is typing to user Y" fact. It is
// never persisted and expires on the consumer side if not refreshed.
type TypingSignal struct {
	FromUserID string `json:"user_id"`
	ToUserID   string `json:"receiver_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

// Event is the JSON envelope carried on the realtime channel in both
// directions. Payload stays raw until the event name selects a concrete
// payload type.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps a payload into an Event envelope.
func NewEvent(name string, payload interface{}) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Name: name, Payload: raw}, nil
}

// JoinPayload announces the session user to the backend so pushes can be
// targeted at its per-user room.
type JoinPayload struct {
	UserID string `json:"user_id"`
}

// SendMessagePayload is the outgoing message payload on the realtime
// channel. Kept for wire compatibility with clients that still broadcast
// sends over the socket; this client persists via REST only.
type SendMessagePayload struct {
	ReceiverID string `json:"receiver_id"`
	Message    string `json:"message"`
	ClientID   string `json:"client_id,omitempty"`
}

// TypingPayload is the outgoing typing signal.
type TypingPayload struct {
	ReceiverID string `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}
