package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"schoolchat/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	client_id       TEXT,
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	body            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	attachment_url  TEXT,
	attachment_name TEXT,
	read            INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_sender_time
	ON messages (sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_time
	ON messages (receiver_id, created_at);
`

// Store is the backend's persistent message log. Conversations are not a
// separate table: the list view is derived from the log, which makes the
// one-thread-per-pair rule structural instead of something to enforce.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the backend database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps sqlite lock errors out of the picture.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateMessage validates and persists a new message, assigning the server
// id and timestamp. The client correlation id is stored and echoed back.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID, body, clientID string) (*types.Message, error) {
	msg := &types.Message{
		ID:         uuid.New().String(),
		ClientID:   clientID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Kind:       types.KindText,
		CreatedAt:  time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, client_id, sender_id, receiver_id, body, kind, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		msg.ID, msg.ClientID, msg.SenderID, msg.ReceiverID, msg.Body, string(msg.Kind), msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// History returns the full thread between the two users in chronological
// order and marks the requester's side as read: fetching a history is the
// backend's signal that the thread was opened.
func (s *Store) History(ctx context.Context, selfID, partnerID string) ([]*types.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE sender_id = ? AND receiver_id = ? AND read = 0`,
		partnerID, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return s.queryMessages(ctx, `
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC`,
		selfID, partnerID, partnerID, selfID)
}

// ListConversations folds the user's message log into one conversation per
// counterpart pair, carrying last message, update time and unread counts.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*types.Conversation, error) {
	msgs, err := s.queryMessages(ctx, `
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at ASC`,
		userID, userID)
	if err != nil {
		return nil, err
	}

	byPair := make(map[string]*types.Conversation)
	for _, m := range msgs {
		key := types.PairKey(m.SenderID, m.ReceiverID)
		c, ok := byPair[key]
		if !ok {
			c = &types.Conversation{
				ID:                key,
				ParticipantIDs:    []string{m.SenderID, m.ReceiverID},
				UnreadCountByUser: make(map[string]int),
			}
			byPair[key] = c
		}
		c.LastMessage = m
		if m.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = m.CreatedAt
		}
		if !m.Read {
			c.UnreadCountByUser[m.ReceiverID]++
		}
	}

	out := make([]*types.Conversation, 0, len(byPair))
	for _, c := range byPair {
		out = append(out, c)
	}
	return out, nil
}

// DeleteConversation removes the whole thread between the two users.
func (s *Store) DeleteConversation(ctx context.Context, selfID, partnerID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		selfID, partnerID, partnerID, selfID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryMessages(ctx context.Context, where string, args ...interface{}) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, sender_id, receiver_id, body, kind, attachment_url, attachment_name, read, created_at
		FROM messages `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var m types.Message
		var kind string
		var attURL, attName sql.NullString
		if err := rows.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &m.Body, &kind, &attURL, &attName, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = types.MessageKind(kind)
		if attURL.Valid {
			m.Attachment = &types.Attachment{URL: attURL.String, Name: attName.String}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
