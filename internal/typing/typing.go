package typing

import (
	"strings"
	"sync"
	"time"

	"schoolchat/pkg/types"
)

// TypingChannel is the slice of the realtime channel the signaler needs.
type TypingChannel interface {
	EmitTyping(receiverID string, isTyping bool) error
}

// Emitter debounces compose-box activity into typing signals. Keystrokes
// arrive on every input change; the emitter collapses them into one
// trailing-edge signal per quiet period instead of one frame per key.
// Stop forces an immediate isTyping=false (used on send and on blur) so a
// counterpart is never left watching a stale indicator.
type Emitter struct {
	channel  TypingChannel
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	sent   map[string]bool // last state emitted per receiver
	closed bool
}

// NewEmitter creates a typing emitter with the given trailing debounce.
func NewEmitter(channel TypingChannel, debounce time.Duration) *Emitter {
	return &Emitter{
		channel:  channel,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		sent:     make(map[string]bool),
	}
}

// Compose records the current compose-box content for a receiver. The
// typing state is derived from the trimmed text and emitted after the
// debounce window closes.
func (e *Emitter) Compose(receiverID, text string) {
	isTyping := strings.TrimSpace(text) != ""

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[receiverID]; ok {
		t.Stop()
	}
	e.timers[receiverID] = time.AfterFunc(e.debounce, func() {
		e.emit(receiverID, isTyping)
	})
}

// Stop cancels any scheduled signal and immediately emits isTyping=false.
func (e *Emitter) Stop(receiverID string) {
	e.mu.Lock()
	if t, ok := e.timers[receiverID]; ok {
		t.Stop()
		delete(e.timers, receiverID)
	}
	e.mu.Unlock()

	e.emit(receiverID, false)
}

// Close cancels all scheduled signals.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Emitter) emit(receiverID string, isTyping bool) {
	e.mu.Lock()
	if e.closed || e.sent[receiverID] == isTyping {
		e.mu.Unlock()
		return
	}
	e.sent[receiverID] = isTyping
	e.mu.Unlock()

	// Typing is ephemeral: a failed emit (channel down) is dropped, not
	// retried or surfaced.
	_ = e.channel.EmitTyping(receiverID, isTyping)
}

// Tracker holds the consumer side of typing signals as leased facts: an
// isTyping=true observation is only valid for the lease TTL and must be
// refreshed to stay set. A dropped stop event therefore clears itself
// within one TTL instead of sticking forever.
type Tracker struct {
	ttl      time.Duration
	onChange func(userID string, isTyping bool)

	mu     sync.Mutex
	leases map[string]*time.Timer
	closed bool
}

// NewTracker creates a tracker. onChange fires on every transition and may
// be nil.
func NewTracker(ttl time.Duration, onChange func(userID string, isTyping bool)) *Tracker {
	return &Tracker{
		ttl:      ttl,
		onChange: onChange,
		leases:   make(map[string]*time.Timer),
	}
}

// Observe applies a received typing signal.
func (t *Tracker) Observe(sig types.TypingSignal) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	timer, active := t.leases[sig.FromUserID]
	if !sig.IsTyping {
		if active {
			timer.Stop()
			delete(t.leases, sig.FromUserID)
		}
		t.mu.Unlock()
		if active {
			t.notify(sig.FromUserID, false)
		}
		return
	}

	if active {
		timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	userID := sig.FromUserID
	t.leases[userID] = time.AfterFunc(t.ttl, func() { t.expire(userID) })
	t.mu.Unlock()
	t.notify(userID, true)
}

// IsTyping reports whether the given user currently holds a typing lease.
func (t *Tracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.leases[userID]
	return ok
}

// Close stops all leases without firing transitions.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, timer := range t.leases {
		timer.Stop()
		delete(t.leases, id)
	}
}

func (t *Tracker) expire(userID string) {
	t.mu.Lock()
	_, ok := t.leases[userID]
	if ok {
		delete(t.leases, userID)
	}
	closed := t.closed
	t.mu.Unlock()

	if ok && !closed {
		t.notify(userID, false)
	}
}

func (t *Tracker) notify(userID string, isTyping bool) {
	if t.onChange != nil {
		t.onChange(userID, isTyping)
	}
}
