package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type mockChannel struct {
	mu       sync.Mutex
	acquires int
	releases int
	failNext bool
	typing   []string
}

func (m *mockChannel) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		return errors.New("dial failed")
	}
	m.acquires++
	return nil
}

func (m *mockChannel) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
}

func (m *mockChannel) EmitTyping(receiverID string, isTyping bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, receiverID)
	return nil
}

func (m *mockChannel) State() interfaces.ChannelState { return interfaces.StateConnected }

type mockAPI struct {
	mu            sync.Mutex
	conversations []*types.Conversation
	history       map[string][]*types.Message
	historyErr    error
	historyCalls  int
	deleted       []string
	deleteErr     error
	created       *types.Message
}

func (m *mockAPI) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations, nil
}

func (m *mockAPI) History(ctx context.Context, partnerID string) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history[partnerID], nil
}

func (m *mockAPI) CreateMessage(ctx context.Context, receiverID, body, clientID string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = &types.Message{
		ID: "srv-1", ClientID: clientID,
		SenderID: "parent-1", ReceiverID: receiverID,
		Body: body, Kind: types.KindText, CreatedAt: t0.Add(time.Minute),
	}
	return m.created, nil
}

func (m *mockAPI) DeleteConversation(ctx context.Context, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, partnerID)
	return nil
}

type mockCache struct {
	mu      sync.Mutex
	stored  map[string][]*types.Message // keyed by pair
	puts    int
	deleted []string
	closed  bool
}

func newMockCache() *mockCache {
	return &mockCache{stored: make(map[string][]*types.Message)}
}

func (m *mockCache) PutMessages(ctx context.Context, messages []*types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	for _, msg := range messages {
		key := types.PairKey(msg.SenderID, msg.ReceiverID)
		m.stored[key] = append(m.stored[key], msg)
	}
	return nil
}

func (m *mockCache) ConversationHistory(ctx context.Context, selfID, partnerID string) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[types.PairKey(selfID, partnerID)], nil
}

func (m *mockCache) DeleteConversation(ctx context.Context, selfID, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, partnerID)
	delete(m.stored, types.PairKey(selfID, partnerID))
	return nil
}

func (m *mockCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(severity interfaces.Severity, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func conv(a, b string, last *types.Message) *types.Conversation {
	return &types.Conversation{
		ID:             types.PairKey(a, b),
		ParticipantIDs: []string{a, b},
		LastMessage:    last,
		UpdatedAt:      last.CreatedAt,
	}
}

func newTestClient(t *testing.T, api *mockAPI, ch *mockChannel, cache interfaces.MessageCache, n interfaces.Notifier) *Client {
	t.Helper()
	return New(Options{
		Self:           types.User{ID: "parent-1", Role: types.RoleParent},
		Channel:        ch,
		API:            api,
		Cache:          cache,
		Notifier:       n,
		TypingDebounce: 10 * time.Millisecond,
		TypingTTL:      50 * time.Millisecond,
	})
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
}

func TestClient_StartAcquiresChannelAndLoadsConversations(t *testing.T) {
	last := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "hi", Kind: types.KindText, CreatedAt: t0}
	api := &mockAPI{conversations: []*types.Conversation{conv("parent-1", "admin-1", last)}}
	ch := &mockChannel{}

	c := newTestClient(t, api, ch, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if ch.acquires != 1 {
		t.Errorf("expected 1 channel acquire, got %d", ch.acquires)
	}
	if len(c.Conversations()) != 1 {
		t.Errorf("expected 1 conversation after start, got %d", len(c.Conversations()))
	}
}

func TestClient_StartFailsWhenChannelUnavailable(t *testing.T) {
	ch := &mockChannel{failNext: true}
	c := newTestClient(t, &mockAPI{}, ch, nil, nil)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail when the channel cannot be acquired")
	}
}

func TestClient_CloseReleasesChannelOnce(t *testing.T) {
	ch := &mockChannel{}
	cache := newMockCache()
	c := newTestClient(t, &mockAPI{}, ch, cache, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close() // second close is a no-op

	if ch.releases != 1 {
		t.Errorf("expected 1 channel release, got %d", ch.releases)
	}
	if !cache.closed {
		t.Error("cache must be closed with the client")
	}
}

func TestClient_OpenConversationRendersCacheThenMergesFetch(t *testing.T) {
	cached := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "old", Kind: types.KindText, CreatedAt: t0}
	fresh := &types.Message{ID: "m2", SenderID: "admin-1", ReceiverID: "parent-1", Body: "new", Kind: types.KindText, CreatedAt: t0.Add(time.Minute)}

	cache := newMockCache()
	cache.PutMessages(context.Background(), []*types.Message{cached})
	api := &mockAPI{history: map[string][]*types.Message{"admin-1": {cached, fresh}}}

	c := newTestClient(t, api, &mockChannel{}, cache, nil)
	startClient(t, c)
	got, err := c.OpenConversation(context.Background(), "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("merged timeline = %+v", got)
	}
}

func TestClient_OpenConversationFetchFailureKeepsCachedView(t *testing.T) {
	cached := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "old", Kind: types.KindText, CreatedAt: t0}
	cache := newMockCache()
	cache.PutMessages(context.Background(), []*types.Message{cached})

	api := &mockAPI{historyErr: errors.New("boom")}
	notifier := &recordingNotifier{}

	c := newTestClient(t, api, &mockChannel{}, cache, notifier)
	startClient(t, c)
	got, err := c.OpenConversation(context.Background(), "admin-1")
	if err == nil {
		t.Fatal("expected the fetch error to propagate")
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("cached view must survive a failed fetch, got %+v", got)
	}
	if notifier.count() != 1 {
		t.Errorf("expected 1 error notice, got %d", notifier.count())
	}
}

func TestClient_OpenConversationRejectsInvalidPartner(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(t, api, &mockChannel{}, nil, nil)
	startClient(t, c)

	if _, err := c.OpenConversation(context.Background(), "not a user!"); !errors.Is(err, types.ErrInvalidUserID) {
		t.Fatalf("err = %v, want ErrInvalidUserID", err)
	}
	if api.historyCalls != 0 {
		t.Error("invalid partner id must not reach the network")
	}
}

func TestClient_SendRequiresActiveConversation(t *testing.T) {
	notifier := &recordingNotifier{}
	c := newTestClient(t, &mockAPI{}, &mockChannel{}, nil, notifier)
	startClient(t, c)

	if _, err := c.Send(context.Background(), "hello"); !errors.Is(err, interfaces.ErrNoActiveConversation) {
		t.Fatalf("err = %v, want ErrNoActiveConversation", err)
	}
	if notifier.count() != 1 {
		t.Errorf("expected 1 notice, got %d", notifier.count())
	}
}

func TestClient_SendConfirmsAndCaches(t *testing.T) {
	api := &mockAPI{history: map[string][]*types.Message{}}
	cache := newMockCache()
	c := newTestClient(t, api, &mockChannel{}, cache, nil)
	startClient(t, c)

	if _, err := c.OpenConversation(context.Background(), "admin-1"); err != nil {
		t.Fatal(err)
	}
	msg, err := c.Send(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" || msg.ReceiverID != "admin-1" {
		t.Fatalf("confirmed message = %+v", msg)
	}

	tl := c.Timeline()
	if len(tl) != 1 || tl[0].ID != "srv-1" {
		t.Errorf("timeline after send = %+v", tl)
	}
	if got, _ := cache.ConversationHistory(context.Background(), "parent-1", "admin-1"); len(got) != 1 {
		t.Error("confirmed message must be cached")
	}
}

func TestClient_DeleteConversationNeedsCapability(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(t, api, &mockChannel{}, nil, nil) // parent: no delete

	if err := c.DeleteConversation(context.Background(), "admin-1"); !errors.Is(err, ErrDeleteNotAllowed) {
		t.Fatalf("err = %v, want ErrDeleteNotAllowed", err)
	}
	if len(api.deleted) != 0 {
		t.Error("denied delete must not reach the backend")
	}
}

func TestClient_DeleteConversationClearsLocalState(t *testing.T) {
	last := &types.Message{ID: "m1", SenderID: "teacher-1", ReceiverID: "admin-9", Body: "hi", Kind: types.KindText, CreatedAt: t0}
	api := &mockAPI{
		conversations: []*types.Conversation{conv("admin-9", "teacher-1", last)},
		history:       map[string][]*types.Message{"teacher-1": {last}},
	}
	cache := newMockCache()
	c := New(Options{
		Self:           types.User{ID: "admin-9", Role: types.RoleAdmin},
		Channel:        &mockChannel{},
		API:            api,
		Cache:          cache,
		TypingDebounce: 10 * time.Millisecond,
		TypingTTL:      50 * time.Millisecond,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.OpenConversation(context.Background(), "teacher-1"); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteConversation(context.Background(), "teacher-1"); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "teacher-1" {
		t.Errorf("backend delete calls = %v", api.deleted)
	}
	if len(c.Conversations()) != 0 {
		t.Error("conversation must leave the index")
	}
	if c.ActivePartner() != "" {
		t.Error("deleting the open conversation must close the view")
	}
	if len(cache.deleted) != 1 {
		t.Error("cached thread must be dropped")
	}
}

func TestClient_HandleNewMessageUpdatesTimelineAndIndex(t *testing.T) {
	last := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "hi", Kind: types.KindText, CreatedAt: t0}
	api := &mockAPI{
		conversations: []*types.Conversation{conv("parent-1", "admin-1", last)},
		history:       map[string][]*types.Message{"admin-1": {last}},
	}
	c := newTestClient(t, api, &mockChannel{}, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.OpenConversation(context.Background(), "admin-1"); err != nil {
		t.Fatal(err)
	}

	push := types.Message{ID: "m2", SenderID: "admin-1", ReceiverID: "parent-1", Body: "urgent", Kind: types.KindText, CreatedAt: t0.Add(time.Minute)}
	c.Callbacks().OnNewMessage(push)

	tl := c.Timeline()
	if len(tl) != 2 || tl[1].ID != "m2" {
		t.Fatalf("timeline after push = %+v", tl)
	}
	convs := c.Conversations()
	if convs[0].LastMessage.ID != "m2" {
		t.Errorf("conversation index not patched: %+v", convs[0].LastMessage)
	}
}

func TestClient_HandleNewMessageForOtherThreadLeavesTimelineAlone(t *testing.T) {
	last := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "hi", Kind: types.KindText, CreatedAt: t0}
	api := &mockAPI{
		conversations: []*types.Conversation{conv("parent-1", "admin-1", last)},
		history:       map[string][]*types.Message{"admin-1": {last}},
	}
	c := newTestClient(t, api, &mockChannel{}, nil, nil)
	startClient(t, c)
	if _, err := c.OpenConversation(context.Background(), "admin-1"); err != nil {
		t.Fatal(err)
	}

	push := types.Message{ID: "m9", SenderID: "admin-2", ReceiverID: "parent-1", Body: "other", Kind: types.KindText, CreatedAt: t0.Add(time.Minute)}
	c.Callbacks().OnNewMessage(push)

	if tl := c.Timeline(); len(tl) != 1 {
		t.Errorf("push for another thread leaked into the open timeline: %+v", tl)
	}
}

func TestClient_TypingSignalTracksActivePartner(t *testing.T) {
	api := &mockAPI{history: map[string][]*types.Message{}}
	c := newTestClient(t, api, &mockChannel{}, nil, nil)
	startClient(t, c)
	if _, err := c.OpenConversation(context.Background(), "admin-1"); err != nil {
		t.Fatal(err)
	}

	c.Callbacks().OnUserTyping(types.TypingSignal{FromUserID: "admin-1", IsTyping: true})
	if !c.PartnerIsTyping() {
		t.Error("active partner typing signal must be visible")
	}
	c.Callbacks().OnUserTyping(types.TypingSignal{FromUserID: "admin-1", IsTyping: false})
	if c.PartnerIsTyping() {
		t.Error("explicit stop must clear the indicator")
	}
}

func TestClient_CapabilityOverride(t *testing.T) {
	override := &Capability{CanDeleteConversation: true}
	last := &types.Message{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "hi", Kind: types.KindText, CreatedAt: t0}
	api := &mockAPI{conversations: []*types.Conversation{conv("parent-1", "admin-1", last)}}
	c := New(Options{
		Self:           types.User{ID: "parent-1", Role: types.RoleParent},
		Channel:        &mockChannel{},
		API:            api,
		Capability:     override,
		TypingDebounce: 10 * time.Millisecond,
		TypingTTL:      50 * time.Millisecond,
	})
	startClient(t, c)

	if err := c.DeleteConversation(context.Background(), "admin-1"); err != nil {
		t.Fatalf("override should allow delete, got %v", err)
	}
}

func TestClient_OperationsRequireStart(t *testing.T) {
	api := &mockAPI{}
	c := newTestClient(t, api, &mockChannel{}, nil, nil)

	if _, err := c.OpenConversation(context.Background(), "admin-1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("OpenConversation before Start = %v, want ErrNotStarted", err)
	}
	if _, err := c.Send(context.Background(), "hello"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send before Start = %v, want ErrNotStarted", err)
	}
	if api.historyCalls != 0 {
		t.Error("operations before Start must not reach the network")
	}
}

func TestClient_DeleteUnknownConversation(t *testing.T) {
	api := &mockAPI{}
	c := New(Options{
		Self:           types.User{ID: "admin-9", Role: types.RoleAdmin},
		Channel:        &mockChannel{},
		API:            api,
		TypingDebounce: 10 * time.Millisecond,
		TypingTTL:      50 * time.Millisecond,
	})
	startClient(t, c)

	if err := c.DeleteConversation(context.Background(), "ghost-1"); !errors.Is(err, interfaces.ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
	if len(api.deleted) != 0 {
		t.Error("unknown conversation must not reach the backend")
	}
}
