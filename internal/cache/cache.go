package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"schoolchat/pkg/interfaces"
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
CREATE INDEX IF NOT EXISTS idx_messages_pair_time
	ON messages (sender_id, receiver_id, created_at);
`

// Store is the local sqlite cache of confirmed messages. It lets a
// re-opened conversation render warm while the authoritative history fetch
// is in flight; the fetched history then overwrites via upsert.
//
// Writes are funneled through a single goroutine. SQLite allows concurrent
// readers but serializing writers avoids lock contention entirely.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

var _ interfaces.MessageCache = (*Store)(nil)

// Open creates or opens the cache database at path. ":memory:" gives an
// ephemeral cache, useful in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 64),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.run(s.db)
		case <-s.shutdown:
			// Drain queued writes before exiting.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- op.run(s.db)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(ctx context.Context, run func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("cache is closed")
	}
	s.mu.RUnlock()

	op := writeOp{run: run, result: make(chan error, 1)}
	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutMessages upserts confirmed messages. Pending copies (no server id)
// are skipped; they must never survive a restart.
func (s *Store) PutMessages(ctx context.Context, messages []*types.Message) error {
	return s.write(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO messages (id, client_id, sender_id, receiver_id, body, kind, attachment_url, attachment_name, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET read = excluded.read`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range messages {
			if m.ID == "" {
				continue
			}
			var attURL, attName sql.NullString
			if m.Attachment != nil {
				attURL = sql.NullString{String: m.Attachment.URL, Valid: true}
				attName = sql.NullString{String: m.Attachment.Name, Valid: true}
			}
			if _, err := stmt.Exec(m.ID, m.ClientID, m.SenderID, m.ReceiverID, m.Body, string(m.Kind), attURL, attName, m.Read, m.CreatedAt); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ConversationHistory returns the cached messages between the two users in
// chronological order.
func (s *Store) ConversationHistory(ctx context.Context, selfID, partnerID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, sender_id, receiver_id, body, kind, attachment_url, attachment_name, read, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC`,
		selfID, partnerID, partnerID, selfID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached history: %w", err)
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

// DeleteConversation drops the cached thread between the two users.
func (s *Store) DeleteConversation(ctx context.Context, selfID, partnerID string) error {
	return s.write(ctx, func(db *sql.DB) error {
		_, err := db.Exec(`
			DELETE FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
			selfID, partnerID, partnerID, selfID)
		return err
	})
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
