package backend

import (
	"log"
	"sync"

	"schoolchat/pkg/types"
)

// Registry tracks the one live connection per joined user. A second join for
// the same user replaces the first; the stale connection is closed
// asynchronously so registration never blocks on a dying peer.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn // userID -> connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*conn)}
}

func (r *Registry) Register(c *conn) error {
	if c == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[c.userID]; ok {
		go func() {
			if err := existing.close(); err != nil {
				log.Printf("backend: failed to close replaced connection for %s: %v", existing.userID, err)
			}
		}()
	}
	r.conns[c.userID] = c
	return nil
}

// Unregister removes the connection if it is still the registered one.
// Idempotent, and a replaced connection cannot evict its successor.
func (r *Registry) Unregister(c *conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.userID] == c {
		delete(r.conns, c.userID)
	}
}

// Push delivers an event to the given user if they are connected. Returns
// false when the user has no live connection; pushes are best-effort and the
// caller treats that as "offline", not an error.
func (r *Registry) Push(userID string, ev *types.Event) bool {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.sendEvent(ev); err != nil {
		log.Printf("backend: push to %s failed: %v", userID, err)
		return false
	}
	return true
}

// Connected reports whether the user has a live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
