package timeline

import (
	"sort"
	"sync"

	"schoolchat/pkg/types"
)

// Timeline is the ordered, de-duplicated view of messages for the one open
// conversation. It is the sole owner of message order: history fetches,
// realtime pushes and optimistic sends all funnel through it.
//
// Ordering: createdAt ascending, ties kept in arrival order. De-duplication
// is by server id and by client correlation id, first-seen wins, so the
// REST response and a socket echo of the same logical send can never both
// land.
//
// Every history fetch is tagged with the generation returned by Open. A
// merge with a stale generation is discarded, which is what keeps a fast
// conversation switch from rendering the previous conversation's history.
type Timeline struct {
	mu        sync.Mutex
	selfID    string
	partnerID string
	gen       uint64
	messages  []*types.Message
	byID      map[string]struct{}
	pending   map[string]*types.Message // clientID -> optimistic copy
}

// New creates an empty timeline for the given session user.
func New(selfID string) *Timeline {
	return &Timeline{
		selfID:  selfID,
		byID:    make(map[string]struct{}),
		pending: make(map[string]*types.Message),
	}
}

// Open switches the timeline to a new conversation partner, discarding the
// previous view, and returns the generation tag the caller must pass to
// MergeHistory. Opening bumps the generation even for the same partner so
// an older in-flight fetch can never clobber a newer one.
func (t *Timeline) Open(partnerID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partnerID = partnerID
	t.gen++
	t.messages = nil
	t.byID = make(map[string]struct{})
	t.pending = make(map[string]*types.Message)
	return t.gen
}

// PartnerID returns the currently open conversation partner, or "".
func (t *Timeline) PartnerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partnerID
}

// MergeHistory merges a fetched history into the timeline. The merge is
// additive, never a wholesale replace: a push that raced ahead of the fetch
// survives. Returns false when gen is stale and the result was discarded.
func (t *Timeline) MergeHistory(gen uint64, msgs []*types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return false
	}
	for _, m := range msgs {
		t.insertLocked(m)
	}
	return true
}

// AppendIncoming applies a realtime push. The message is appended iff it
// belongs to the open conversation (its sender or receiver is the active
// partner); anything else is dropped here and only affects the conversation
// store. Returns true when the timeline changed.
func (t *Timeline) AppendIncoming(msg *types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.partnerID == "" {
		return false
	}
	if msg.SenderID != t.partnerID && msg.ReceiverID != t.partnerID {
		return false
	}
	return t.insertLocked(msg)
}

// AppendPending adds an optimistic not-yet-confirmed copy of an outgoing
// message. The message must carry a client correlation id and no server id.
func (t *Timeline) AppendPending(msg *types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ClientID == "" || msg.ID != "" {
		return
	}
	if _, exists := t.pending[msg.ClientID]; exists {
		return
	}
	t.pending[msg.ClientID] = msg
	t.messages = append(t.messages, msg)
}

// Reconcile replaces the optimistic copy identified by clientID with the
// authoritative server message. Idempotent: if a socket echo already
// delivered the server copy, the pending entry is simply dropped.
//
// A confirmation that resolves after the user switched conversations is
// discarded here: the pending copy died with the old view, and the server
// message belongs to a conversation that is no longer open. It still reaches
// the conversation index and the cache through the caller.
func (t *Timeline) Reconcile(clientID string, server *types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removePendingLocked(clientID)
	if server.SenderID != t.partnerID && server.ReceiverID != t.partnerID {
		return
	}
	t.insertLocked(server)
}

// RemovePending discards an optimistic copy whose send failed, restoring
// the timeline to its pre-send state.
func (t *Timeline) RemovePending(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removePendingLocked(clientID)
}

// Messages returns a snapshot of the timeline in render order.
func (t *Timeline) Messages() []*types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// insertLocked inserts a confirmed message in chronological position with
// id and correlation-id de-duplication. Returns true if inserted.
func (t *Timeline) insertLocked(msg *types.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, seen := t.byID[msg.ID]; seen {
		return false
	}
	// A push carrying the correlation id of a pending send is the echo of
	// that send: treat it as the reconciliation, not a new entry.
	if msg.ClientID != "" {
		if _, ok := t.pending[msg.ClientID]; ok {
			t.removePendingLocked(msg.ClientID)
		}
	}

	t.byID[msg.ID] = struct{}{}

	// Insert after the last message with createdAt <= msg.CreatedAt so
	// render order stays non-decreasing and ties keep arrival order.
	idx := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	t.messages = append(t.messages, nil)
	copy(t.messages[idx+1:], t.messages[idx:])
	t.messages[idx] = msg
	return true
}

func (t *Timeline) removePendingLocked(clientID string) {
	msg, ok := t.pending[clientID]
	if !ok {
		return
	}
	delete(t.pending, clientID)
	for i, m := range t.messages {
		if m == msg {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}
