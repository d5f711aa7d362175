package backend

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/pkg/types"
)

// WSHandler owns the realtime side of the backend: it upgrades connections,
// requires a join as the first event, and forwards typing and message events
// to the addressed user's connection.
type WSHandler struct {
	registry     *Registry
	store        *Store
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewWSHandler(registry *Registry, store *Store, writeTimeout time.Duration) *WSHandler {
	return &WSHandler{
		registry:     registry,
		store:        store,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dev backend: cross-origin clients are expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("backend: websocket upgrade failed: %v", err)
		return
	}

	userID, err := h.awaitJoin(ws)
	if err != nil {
		log.Printf("backend: rejecting connection: %v", err)
		ws.Close()
		return
	}

	c := newConn(ws, userID, h.writeTimeout)
	if err := h.registry.Register(c); err != nil {
		c.close()
		return
	}
	defer func() {
		h.registry.Unregister(c)
		c.close()
	}()

	h.readLoop(c)
}

// awaitJoin reads the first event and requires it to be a valid join.
func (h *WSHandler) awaitJoin(ws *websocket.Conn) (string, error) {
	var ev types.Event
	if err := ws.ReadJSON(&ev); err != nil {
		return "", err
	}
	if ev.Name != types.EventJoin {
		return "", ErrJoinRequired
	}
	var join types.JoinPayload
	if err := json.Unmarshal(ev.Payload, &join); err != nil {
		return "", err
	}
	if !types.IsValidUserID(join.UserID) {
		return "", types.ErrInvalidUserID
	}
	return join.UserID, nil
}

func (h *WSHandler) readLoop(c *conn) {
	for {
		var ev types.Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			return
		}
		switch ev.Name {
		case types.EventTyping:
			h.handleTyping(c, ev.Payload)
		case types.EventSendMessage:
			h.handleSendMessage(c, ev.Payload)
		default:
			// Unknown events are skipped so older and newer clients can
			// share a backend.
		}
	}
}

// handleTyping forwards the ephemeral signal to the addressed user. Nothing
// is persisted and an offline receiver just misses it.
func (h *WSHandler) handleTyping(c *conn, payload json.RawMessage) {
	var p types.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("backend: malformed typing payload from %s: %v", c.userID, err)
		return
	}
	ev, err := types.NewEvent(types.EventUserTyping, types.TypingSignal{
		FromUserID: c.userID,
		IsTyping:   p.IsTyping,
	})
	if err != nil {
		return
	}
	h.registry.Push(p.ReceiverID, ev)
}

// handleSendMessage accepts the socket send path kept for older clients:
// persist, then push to the receiver. The sender gets no echo; its REST
// response (or this event's error silence) is its confirmation channel.
func (h *WSHandler) handleSendMessage(c *conn, payload json.RawMessage) {
	var p types.SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("backend: malformed sendMessage payload from %s: %v", c.userID, err)
		return
	}
	msg, err := h.store.CreateMessage(c.ctx, c.userID, p.ReceiverID, p.Message, p.ClientID)
	if err != nil {
		log.Printf("backend: socket send from %s rejected: %v", c.userID, err)
		return
	}
	h.pushNewMessage(msg)
}

// pushNewMessage notifies the receiver's live connection of a stored
// message. Only the receiver: the sender reconciles from the REST response
// and must not race against its own echo.
func (h *WSHandler) pushNewMessage(msg *types.Message) {
	ev, err := types.NewEvent(types.EventNewMessage, msg)
	if err != nil {
		return
	}
	h.registry.Push(msg.ReceiverID, ev)
}
