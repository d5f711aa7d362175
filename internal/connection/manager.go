package connection

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/internal/config"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Manager owns the single realtime duplex channel of one authenticated
// session. Chat-capable views share it through Acquire/Release reference
// counting: the socket is dialed on the first acquire, kept alive across
// view switches, and closed exactly once when the last reference drops.
//
// On connection loss the manager reconnects on its own with exponential
// backoff (doubling from BackoffMin, capped at BackoffMax, retrying
// indefinitely). After FailureNoticeAfter consecutive failures a single
// transport-error notification is surfaced; retrying continues regardless.
type Manager struct {
	cfg      *config.RealtimeConfig
	userID   string
	cb       interfaces.ChannelCallbacks
	notifier interfaces.Notifier
	dialer   *websocket.Dialer

	mu        sync.Mutex
	refs      int
	state     interfaces.ChannelState
	writeCh chan []byte   // nil unless connected
	stop    chan struct{} // closed when the current connection's goroutines must exit
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ interfaces.RealtimeChannel = (*Manager)(nil)

// NewManager creates a connection manager for the given session user.
// Callbacks fire from the manager's read goroutine and must not block.
func NewManager(cfg *config.RealtimeConfig, userID string, cb interfaces.ChannelCallbacks, notifier interfaces.Notifier) (*Manager, error) {
	if cfg == nil || cfg.URL == "" || cfg.BackoffMin <= 0 || cfg.BackoffMax < cfg.BackoffMin {
		return nil, ErrInvalidConfig
	}
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}
	return &Manager{
		cfg:      cfg,
		userID:   userID,
		cb:       cb,
		notifier: notifier,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		state: interfaces.StateDisconnected,
	}, nil
}

// Acquire takes a reference to the shared channel, starting the connect
// loop if this is the first one.
func (m *Manager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs++
	if m.refs > 1 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	return nil
}

// Release drops one reference. When the last reference is released the
// socket is torn down and the connect loop stops.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.refs == 0 {
		m.mu.Unlock()
		log.Printf("connection: release without matching acquire for user %s", m.userID)
		return
	}
	m.refs--
	if m.refs > 0 {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	<-done
}

// State returns the current connection state.
func (m *Manager) State() interfaces.ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EmitTyping sends a typing signal to the given receiver. Returns
// ErrNotConnected while the channel is down; typing is ephemeral so callers
// simply drop the signal in that case.
func (m *Manager) EmitTyping(receiverID string, isTyping bool) error {
	return m.emit(types.EventTyping, types.TypingPayload{
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
}

func (m *Manager) emit(name string, payload interface{}) error {
	ev, err := types.NewEvent(name, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	writeCh := m.writeCh
	connected := m.state == interfaces.StateConnected
	m.mu.Unlock()

	if !connected || writeCh == nil {
		return interfaces.ErrNotConnected
	}

	select {
	case writeCh <- data:
		return nil
	case <-time.After(m.cfg.WriteTimeout):
		return ErrWriteTimeout
	}
}

// run dials, reads until failure, and redials with capped exponential
// backoff until the context is cancelled by the last Release.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.setState(interfaces.StateDisconnected)

	backoff := m.cfg.BackoffMin
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(interfaces.StateConnecting)

		conn, stop, err := m.connect(ctx)
		if err != nil {
			failures++
			if failures == m.cfg.FailureNoticeAfter {
				m.notify(interfaces.SeverityError, "chat connection unavailable, retrying in the background")
			}
			log.Printf("connection: dial failed for user %s (attempt %d): %v", m.userID, failures, err)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > m.cfg.BackoffMax {
				backoff = m.cfg.BackoffMax
			}
			continue
		}

		failures = 0
		backoff = m.cfg.BackoffMin
		m.setState(interfaces.StateConnected)

		m.readLoop(ctx, conn, stop)

		m.detach(conn)
		if ctx.Err() != nil {
			return
		}
		m.setState(interfaces.StateDisconnected)
		m.notify(interfaces.SeverityError, "chat connection lost, reconnecting")
	}
}

// connect dials the websocket, starts the single writer goroutine and
// performs the join handshake that subscribes the per-user room.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, chan struct{}, error) {
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, nil, err
	}

	// Join handshake: the user id is the sole payload, immediately after
	// connect, so the backend can target pushes at this user.
	join, err := types.NewEvent(types.EventJoin, types.JoinPayload{UserID: m.userID})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	data, err := json.Marshal(join)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	writeCh := make(chan []byte, 64)
	stop := make(chan struct{})
	go m.writeLoop(conn, writeCh, stop)

	select {
	case writeCh <- data:
	case <-ctx.Done():
		close(stop)
		conn.Close()
		return nil, nil, ctx.Err()
	}

	m.mu.Lock()
	m.writeCh = writeCh
	m.stop = stop
	m.mu.Unlock()

	return conn, stop, nil
}

// writeLoop serializes all writes for one connection. A single writer
// goroutine per socket is required; gorilla/websocket connections do not
// support concurrent writers.
func (m *Manager) writeLoop(conn *websocket.Conn, writeCh chan []byte, stop chan struct{}) {
	for {
		select {
		case data := <-writeCh:
			if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// readLoop decodes event envelopes and dispatches them until the
// connection fails or the context is cancelled. The watcher goroutine
// unblocks ReadJSON on cancellation and exits with the connection via the
// stop channel, so reconnects do not accumulate watchers.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, stop chan struct{}) {
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		m.dispatch(&ev)
	}
}

func (m *Manager) dispatch(ev *types.Event) {
	switch ev.Name {
	case types.EventNewMessage:
		if m.cb.OnNewMessage == nil {
			return
		}
		var msg types.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			log.Printf("connection: malformed newMessage payload: %v", err)
			return
		}
		m.cb.OnNewMessage(msg)
	case types.EventUserTyping:
		if m.cb.OnUserTyping == nil {
			return
		}
		var sig types.TypingSignal
		if err := json.Unmarshal(ev.Payload, &sig); err != nil {
			log.Printf("connection: malformed userTyping payload: %v", err)
			return
		}
		m.cb.OnUserTyping(sig)
	default:
		// Unknown events are skipped so the wire contract can grow
		// without breaking older clients.
	}
}

// detach stops the connection's goroutines and clears the write channel
// from the manager so emits fail fast while disconnected.
func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	stop := m.stop
	m.writeCh = nil
	m.stop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	conn.Close()
}

func (m *Manager) setState(s interfaces.ChannelState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed && m.cb.OnStateChange != nil {
		m.cb.OnStateChange(s)
	}
}

func (m *Manager) notify(severity interfaces.Severity, msg string) {
	if m.notifier != nil {
		m.notifier.Notify(severity, msg)
	}
}
