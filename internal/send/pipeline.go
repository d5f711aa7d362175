package send

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"schoolchat/internal/timeline"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Stopper forces the typing indicator off when a message is sent.
type Stopper interface {
	Stop(receiverID string)
}

// ConversationPatcher applies a confirmed message to the conversation
// index. A false return means cache miss and triggers a full refresh.
type ConversationPatcher interface {
	ApplyMessage(msg *types.Message) bool
	Refresh(ctx context.Context) error
}

// Pipeline drives one outgoing message from submit to confirmation.
//
// The flow is single-path: validate, append an optimistic copy tagged with
// a fresh correlation id, persist via REST, then reconcile the pending copy
// with the server's authoritative message. The backend is the sole source
// of realtime pushes, so the sender never depends on its own echo; if one
// arrives anyway the timeline's correlation-id dedup absorbs it.
type Pipeline struct {
	selfID   string
	api      interfaces.API
	timeline *timeline.Timeline
	convs    ConversationPatcher
	typing   Stopper
	notifier interfaces.Notifier
}

// NewPipeline wires a send pipeline for one session user. typing and
// notifier may be nil.
func NewPipeline(selfID string, api interfaces.API, tl *timeline.Timeline, convs ConversationPatcher, typing Stopper, notifier interfaces.Notifier) *Pipeline {
	return &Pipeline{
		selfID:   selfID,
		api:      api,
		timeline: tl,
		convs:    convs,
		typing:   typing,
		notifier: notifier,
	}
}

// Send submits a message to the given receiver. Validation failures return
// before any network call. On success the confirmed server message is
// returned; on failure the optimistic copy is rolled back and the server's
// error text is surfaced as a notification.
func (p *Pipeline) Send(ctx context.Context, receiverID, body string) (*types.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		p.notify(interfaces.SeverityError, ErrEmptyBody.Error())
		return nil, ErrEmptyBody
	}
	if receiverID == "" {
		p.notify(interfaces.SeverityError, ErrNoRecipient.Error())
		return nil, ErrNoRecipient
	}

	clientID := uuid.New().String()
	pending := &types.Message{
		ClientID:   clientID,
		SenderID:   p.selfID,
		ReceiverID: receiverID,
		Body:       body,
		Kind:       types.KindText,
		CreatedAt:  time.Now(),
	}
	p.timeline.AppendPending(pending)

	if p.typing != nil {
		p.typing.Stop(receiverID)
	}

	confirmed, err := p.api.CreateMessage(ctx, receiverID, body, clientID)
	if err != nil {
		// Roll back so no unconfirmed state outlives the failure.
		p.timeline.RemovePending(clientID)
		p.notify(interfaces.SeverityError, err.Error())
		return nil, err
	}

	p.timeline.Reconcile(clientID, confirmed)

	if p.convs != nil {
		if !p.convs.ApplyMessage(confirmed) {
			// First message of a brand-new thread: the pair is not in
			// the index yet, fall back to a full refresh.
			if err := p.convs.Refresh(ctx); err == nil {
				p.convs.ApplyMessage(confirmed)
			}
		}
	}

	p.notify(interfaces.SeveritySuccess, "message sent")
	return confirmed, nil
}

func (p *Pipeline) notify(severity interfaces.Severity, msg string) {
	if p.notifier != nil {
		p.notifier.Notify(severity, msg)
	}
}
