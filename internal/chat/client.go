package chat

import (
	"context"
	"log"
	"time"

	"schoolchat/internal/conversation"
	"schoolchat/internal/send"
	"schoolchat/internal/timeline"
	"schoolchat/internal/typing"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Client is the complete chat subsystem for one authenticated session:
// realtime channel, conversation index, active timeline, send pipeline and
// typing signaler wired together. One Client serves every chat-capable
// view of the session; views share the realtime channel via the client's
// Start/Close reference pair.
type Client struct {
	self     types.User
	cap      Capability
	channel  interfaces.RealtimeChannel
	api      interfaces.API
	cache    interfaces.MessageCache // may be nil
	notifier interfaces.Notifier

	convs    *conversation.Store
	timeline *timeline.Timeline
	pipeline *send.Pipeline
	emitter  *typing.Emitter
	tracker  *typing.Tracker

	started bool
}

// Options carries the collaborator-owned inputs of a chat client.
type Options struct {
	Self    types.User
	Channel interfaces.RealtimeChannel
	API     interfaces.API

	// RoleOf resolves counterpart roles from the directory collaborator.
	RoleOf func(userID string) (types.Role, bool)

	// Cache is the optional local message cache; nil disables warm opens.
	Cache interfaces.MessageCache

	// Notifier receives all user-facing notifications; nil drops them.
	Notifier interfaces.Notifier

	// TypingDebounce and TypingTTL come from config.Typing.
	TypingDebounce time.Duration
	TypingTTL      time.Duration

	// OnTypingChanged fires when a counterpart starts or stops typing.
	OnTypingChanged func(userID string, isTyping bool)

	// Capability overrides the role default when non-nil.
	Capability *Capability
}

// New assembles a chat client. The returned client is idle until Start.
func New(opts Options) *Client {
	capability := CapabilityForRole(opts.Self.Role)
	if opts.Capability != nil {
		capability = *opts.Capability
	}

	c := &Client{
		self:     opts.Self,
		cap:      capability,
		channel:  opts.Channel,
		api:      opts.API,
		cache:    opts.Cache,
		notifier: opts.Notifier,
	}

	c.convs = conversation.NewStore(opts.API, opts.Self.ID, capability.AllowedCounterpartRoles, opts.RoleOf, opts.Notifier)
	c.timeline = timeline.New(opts.Self.ID)
	c.emitter = typing.NewEmitter(opts.Channel, opts.TypingDebounce)
	c.tracker = typing.NewTracker(opts.TypingTTL, opts.OnTypingChanged)
	c.pipeline = send.NewPipeline(opts.Self.ID, opts.API, c.timeline, c.convs, c.emitter, opts.Notifier)
	return c
}

// Callbacks returns the handler set a realtime channel needs; callers pass
// this value when constructing the connection manager.
func (c *Client) Callbacks() interfaces.ChannelCallbacks {
	return interfaces.ChannelCallbacks{
		OnNewMessage: c.handleNewMessage,
		OnUserTyping: c.handleUserTyping,
	}
}

// Start acquires the shared realtime channel and loads the conversation
// list. A refresh failure is not fatal: the channel still delivers pushes
// and the list can be refreshed later.
func (c *Client) Start(ctx context.Context) error {
	if err := c.channel.Acquire(); err != nil {
		return err
	}
	c.started = true
	if err := c.convs.Refresh(ctx); err != nil {
		log.Printf("chat: initial conversation refresh failed: %v", err)
	}
	return nil
}

// Close releases the realtime channel and stops timers. Must be called
// exactly once per successful Start.
func (c *Client) Close() {
	if !c.started {
		return
	}
	c.started = false
	c.emitter.Close()
	c.tracker.Close()
	c.channel.Release()
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			log.Printf("chat: cache close failed: %v", err)
		}
	}
}

// Conversations returns the scoped conversation list, most recent first.
func (c *Client) Conversations() []*types.Conversation {
	return c.convs.List()
}

// RefreshConversations re-fetches the conversation list.
func (c *Client) RefreshConversations(ctx context.Context) error {
	return c.convs.Refresh(ctx)
}

// OpenConversation switches the active timeline to the given partner.
// Cached messages render immediately; the authoritative REST history is
// then merged in (never replacing, so pushes that raced ahead survive).
// If the fetch fails the cached view stands and the error is surfaced as a
// notification.
func (c *Client) OpenConversation(ctx context.Context, partnerID string) ([]*types.Message, error) {
	if !c.started {
		return nil, ErrNotStarted
	}
	if !types.IsValidUserID(partnerID) {
		return nil, types.ErrInvalidUserID
	}

	gen := c.timeline.Open(partnerID)
	c.convs.MarkRead(partnerID)

	if c.cache != nil {
		if cached, err := c.cache.ConversationHistory(ctx, c.self.ID, partnerID); err == nil && len(cached) > 0 {
			c.timeline.MergeHistory(gen, cached)
		}
	}

	history, err := c.api.History(ctx, partnerID)
	if err != nil {
		c.notify(interfaces.SeverityError, "could not load message history: "+err.Error())
		return c.timeline.Messages(), err
	}

	// The guard inside MergeHistory discards this result if the user
	// already switched away while the fetch was in flight.
	if c.timeline.MergeHistory(gen, history) && c.cache != nil {
		if err := c.cache.PutMessages(ctx, history); err != nil {
			log.Printf("chat: cache write failed: %v", err)
		}
	}
	return c.timeline.Messages(), nil
}

// ActivePartner returns the open conversation's counterpart id, or "".
func (c *Client) ActivePartner() string {
	return c.timeline.PartnerID()
}

// Timeline returns the active conversation's messages in render order.
func (c *Client) Timeline() []*types.Message {
	return c.timeline.Messages()
}

// Send submits a message to the active conversation partner.
func (c *Client) Send(ctx context.Context, body string) (*types.Message, error) {
	if !c.started {
		return nil, ErrNotStarted
	}
	partnerID := c.timeline.PartnerID()
	if partnerID == "" {
		c.notify(interfaces.SeverityError, interfaces.ErrNoActiveConversation.Error())
		return nil, interfaces.ErrNoActiveConversation
	}
	msg, err := c.pipeline.Send(ctx, partnerID, body)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if cerr := c.cache.PutMessages(ctx, []*types.Message{msg}); cerr != nil {
			log.Printf("chat: cache write failed: %v", cerr)
		}
	}
	return msg, nil
}

// Compose reports the current compose-box content; the typing signaler
// debounces it into at most one signal per quiet period.
func (c *Client) Compose(text string) {
	if partnerID := c.timeline.PartnerID(); partnerID != "" {
		c.emitter.Compose(partnerID, text)
	}
}

// Blur force-stops the typing indicator for the active partner, used when
// the compose box loses focus.
func (c *Client) Blur() {
	if partnerID := c.timeline.PartnerID(); partnerID != "" {
		c.emitter.Stop(partnerID)
	}
}

// PartnerIsTyping reports whether the active conversation partner holds a
// live typing lease.
func (c *Client) PartnerIsTyping() bool {
	partnerID := c.timeline.PartnerID()
	return partnerID != "" && c.tracker.IsTyping(partnerID)
}

// DeleteConversation removes the whole thread with a partner, backend
// first, then local index and cache.
func (c *Client) DeleteConversation(ctx context.Context, partnerID string) error {
	if !c.cap.CanDeleteConversation {
		return ErrDeleteNotAllowed
	}
	if _, ok := c.convs.Get(partnerID); !ok {
		return interfaces.ErrConversationNotFound
	}
	if err := c.api.DeleteConversation(ctx, partnerID); err != nil {
		c.notify(interfaces.SeverityError, "could not delete conversation: "+err.Error())
		return err
	}
	c.convs.Remove(partnerID)
	if c.timeline.PartnerID() == partnerID {
		c.timeline.Open("") // drop the active view
	}
	if c.cache != nil {
		if err := c.cache.DeleteConversation(ctx, c.self.ID, partnerID); err != nil {
			log.Printf("chat: cache delete failed: %v", err)
		}
	}
	return nil
}

// handleNewMessage runs on every realtime push: the active timeline takes
// it if it belongs there, and the conversation index is patched in place,
// falling back to a coarse refresh when the thread is unknown.
func (c *Client) handleNewMessage(msg types.Message) {
	m := msg
	if c.timeline.AppendIncoming(&m) && c.cache != nil {
		if err := c.cache.PutMessages(context.Background(), []*types.Message{&m}); err != nil {
			log.Printf("chat: cache write failed: %v", err)
		}
	}
	if !c.convs.ApplyMessage(&m) {
		go func() {
			if err := c.convs.Refresh(context.Background()); err != nil {
				log.Printf("chat: conversation refresh after push failed: %v", err)
			}
		}()
	}
}

func (c *Client) handleUserTyping(sig types.TypingSignal) {
	c.tracker.Observe(sig)
}

func (c *Client) notify(severity interfaces.Severity, msg string) {
	if c.notifier != nil {
		c.notifier.Notify(severity, msg)
	}
}
