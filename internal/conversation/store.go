package conversation

import (
	"context"
	"log"
	"sort"
	"sync"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Store is the in-memory index of the session user's conversations, keyed
// by the canonical participant pair so the same two users can never appear
// twice. It is kept in sync with the backend list and patched incrementally
// from realtime pushes, falling back to a full refresh on cache miss.
//
// Role scoping happens in exactly one place: the client-side predicate
// applied on refresh. A conversation is relevant when some participant who
// is not the session user holds one of the allowed counterpart roles.
type Store struct {
	api      interfaces.API
	notifier interfaces.Notifier
	selfID   string

	// roleOf resolves a user id to its directory role. Conversations whose
	// counterpart role cannot be resolved are kept; dropping them would
	// hide real threads on a directory hiccup.
	roleOf       func(userID string) (types.Role, bool)
	allowedRoles map[types.Role]bool

	mu     sync.RWMutex
	byPair map[string]*types.Conversation
}

// NewStore creates a conversation store scoped to the given counterpart
// roles. A nil or empty allowed set admits every role.
func NewStore(api interfaces.API, selfID string, allowed []types.Role, roleOf func(string) (types.Role, bool), notifier interfaces.Notifier) *Store {
	allowedRoles := make(map[types.Role]bool, len(allowed))
	for _, r := range allowed {
		allowedRoles[r] = true
	}
	return &Store{
		api:          api,
		notifier:     notifier,
		selfID:       selfID,
		roleOf:       roleOf,
		allowedRoles: allowedRoles,
		byPair:       make(map[string]*types.Conversation),
	}
}

// Refresh replaces the index with the backend's conversation list. On
// failure the existing in-memory list is left untouched; the error is
// surfaced as a notification and returned.
func (s *Store) Refresh(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		if s.notifier != nil {
			s.notifier.Notify(interfaces.SeverityError, "could not refresh conversations: "+err.Error())
		}
		return err
	}

	fresh := make(map[string]*types.Conversation, len(convs))
	for _, c := range convs {
		if err := c.Validate(); err != nil {
			log.Printf("conversation: dropping invalid entry %s: %v", c.ID, err)
			continue
		}
		if !s.relevant(c) {
			continue
		}
		key := c.PairKey()
		if prev, dup := fresh[key]; dup {
			// The backend must never hand out two threads for one pair;
			// keep the most recently updated one if it does.
			log.Printf("conversation: duplicate pair %s (%s, %s)", key, prev.ID, c.ID)
			if !c.UpdatedAt.After(prev.UpdatedAt) {
				continue
			}
		}
		fresh[key] = c
	}

	s.mu.Lock()
	s.byPair = fresh
	s.mu.Unlock()
	return nil
}

// relevant applies the role-scope predicate: some participant other than
// the session user holds an allowed role.
func (s *Store) relevant(c *types.Conversation) bool {
	if len(s.allowedRoles) == 0 || s.roleOf == nil {
		return true
	}
	for _, id := range c.ParticipantIDs {
		if id == s.selfID {
			continue
		}
		role, ok := s.roleOf(id)
		if !ok || s.allowedRoles[role] {
			return true
		}
	}
	return false
}

// ApplyMessage patches the single conversation affected by a message:
// lastMessage, updatedAt and the receiver's unread count. Returns false on
// cache miss, in which case the caller falls back to a full Refresh.
func (s *Store) ApplyMessage(msg *types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byPair[types.PairKey(msg.SenderID, msg.ReceiverID)]
	if !ok {
		return false
	}
	if c.LastMessage != nil && msg.CreatedAt.Before(c.LastMessage.CreatedAt) {
		// Out-of-order delivery of an older message; the thread metadata
		// already reflects something newer.
		return true
	}
	c.LastMessage = msg
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	if c.UnreadCountByUser == nil {
		c.UnreadCountByUser = make(map[string]int)
	}
	if !msg.Read {
		c.UnreadCountByUser[msg.ReceiverID]++
	}
	return true
}

// MarkRead clears the session user's unread count for the thread with the
// given partner, typically when that conversation is opened.
func (s *Store) MarkRead(partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.byPair[types.PairKey(s.selfID, partnerID)]; ok {
		if c.UnreadCountByUser != nil {
			c.UnreadCountByUser[s.selfID] = 0
		}
	}
}

// Get returns the conversation with the given partner.
func (s *Store) Get(partnerID string) (*types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byPair[types.PairKey(s.selfID, partnerID)]
	return c, ok
}

// Remove drops the thread with the given partner from the index.
func (s *Store) Remove(partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPair, types.PairKey(s.selfID, partnerID))
}

// List returns the conversations ordered by updatedAt descending, the way
// every chat surface renders its sidebar.
func (s *Store) List() []*types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Conversation, 0, len(s.byPair))
	for _, c := range s.byPair {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of indexed conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPair)
}
