package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu       sync.Mutex
	messages map[string]map[int]model.MessagePage
	convs    map[int]model.ConversationPage
	errs     map[Key]error
	calls    map[Key]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		messages: make(map[string]map[int]model.MessagePage),
		convs:    make(map[int]model.ConversationPage),
		errs:     make(map[Key]error),
		calls:    make(map[Key]int),
	}
}

func (f *fakeFetcher) setPage(convID string, page int, hasNext bool, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages[convID] == nil {
		f.messages[convID] = make(map[int]model.MessagePage)
	}
	f.messages[convID][page] = model.MessagePage{Messages: msgs, Pagination: model.Pagination{Page: page, HasNext: hasNext}}
}

func (f *fakeFetcher) fail(key Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

func (f *fakeFetcher) count(key Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) ListConversations(_ context.Context, page int) (*model.ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Key{Scope: ScopeList, Page: page}
	f.calls[key]++
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	p := f.convs[page]
	return &p, nil
}

func (f *fakeFetcher) ListMessages(_ context.Context, conversationID string, page int) (*model.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Key{Scope: ScopeMessages, ConversationID: conversationID, Page: page}
	f.calls[key]++
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	p := f.messages[conversationID][page]
	return &p, nil
}

func newTestCache(t *testing.T, f Fetcher, opts Options) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	opts.Clock = clock
	c := New(f, opts)
	t.Cleanup(c.Stop)
	return c, clock
}

func serverMsg(conv, id string, at time.Time) model.Message {
	return model.Message{ID: id, ConversationID: conv, SenderID: "bob", Body: id, CreatedAt: at, Status: model.StatusSent}
}

func localMsg(conv, clientID string, seq uint64, at time.Time) model.Message {
	return model.Message{
		ID: clientID, ClientID: clientID, ConversationID: conv, SenderID: "me",
		Body: "local " + clientID, CreatedAt: at, Status: model.StatusPending, LocalSeq: seq,
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestUpsertReplacesTemporaryInPlace(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0.Add(-2*time.Minute)))
	c, _ := newTestCache(t, f, Options{})

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	tmp := localMsg("c1", "local-a", 1, t0)
	c.UpsertMessage(tmp)
	c.UpsertMessage(serverMsg("c1", "m2", t0.Add(time.Minute)))

	confirmed := tmp
	confirmed.ID = "srv-a"
	confirmed.Status = model.StatusSent
	confirmed.CreatedAt = t0.Add(5 * time.Minute) // server clock later than the next message
	confirmed.Body = "edited by server"
	c.UpsertMessage(confirmed)

	msgs := c.Messages("c1")
	assert.Equal(t, []string{"m1", "srv-a", "m2"}, ids(msgs))
	assert.Equal(t, "edited by server", msgs[1].Body)
	assert.Equal(t, model.StatusSent, msgs[1].Status)
	assert.Equal(t, "local-a", msgs[1].ClientID)
}

func TestConfirmationsOutOfOrderKeepSendOrder(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher(), Options{})

	a := localMsg("c1", "local-a", 1, t0)
	b := localMsg("c1", "local-b", 2, t0)
	c.UpsertMessage(a)
	c.UpsertMessage(b)

	bSent := b
	bSent.ID, bSent.Status, bSent.CreatedAt = "srv-b", model.StatusSent, t0.Add(time.Second)
	c.UpsertMessage(bSent)
	assert.Equal(t, []string{"local-a", "srv-b"}, ids(c.Messages("c1")))

	aSent := a
	aSent.ID, aSent.Status, aSent.CreatedAt = "srv-a", model.StatusSent, t0.Add(2*time.Second)
	c.UpsertMessage(aSent)
	assert.Equal(t, []string{"srv-a", "srv-b"}, ids(c.Messages("c1")))

	// A later server listing matches by ID and leaves the order alone.
	c.UpsertMessage(aSent)
	c.UpsertMessage(bSent)
	assert.Len(t, c.Messages("c1"), 2)
	assert.Equal(t, []string{"srv-a", "srv-b"}, ids(c.Messages("c1")))
}

func TestFailedPageKeepsLoadedPages(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, true, serverMsg("c1", "m3", t0), serverMsg("c1", "m2", t0.Add(-time.Minute)))
	fetchErr := errors.New("connection reset")
	f.fail(Key{Scope: ScopeMessages, ConversationID: "c1", Page: 2}, fetchErr)
	c, _ := newTestCache(t, f, Options{})

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	msgs, err := c.GetMessages(context.Background(), "c1", 2)
	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, []string{"m2", "m3"}, ids(msgs))
	assert.ErrorIs(t, c.PageErr(Key{Scope: ScopeMessages, ConversationID: "c1", Page: 2}), fetchErr)
	assert.NoError(t, c.PageErr(Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}))
	assert.Equal(t, Cursor{Page: 1, HasNext: true}, c.Cursor("c1"))

	// A retry after the failure clears the error and advances the cursor.
	f.fail(Key{Scope: ScopeMessages, ConversationID: "c1", Page: 2}, nil)
	f.setPage("c1", 2, false, serverMsg("c1", "m1", t0.Add(-2*time.Minute)))
	msgs, err = c.GetMessages(context.Background(), "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(msgs))
	assert.Equal(t, Cursor{Page: 2, HasNext: false}, c.Cursor("c1"))
}

func TestStalePageServedAndRefreshedInBackground(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	c, clock := newTestCache(t, f, Options{StaleAfter: 5 * time.Minute})
	key := Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	_, err = c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(key), "fresh page must not refetch")

	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0), serverMsg("c1", "m2", t0.Add(time.Second)))
	clock.Advance(6 * time.Minute)
	msgs, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(msgs), "stale page is served immediately")

	assert.Eventually(t, func() bool { return len(c.Messages("c1")) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.count(key))
	assert.False(t, c.MaybeStale("c1"))
}

func TestBackgroundFailureOnlyFlagsMaybeStale(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	c, clock := newTestCache(t, f, Options{})
	key := Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	f.fail(key, errors.New("offline"))
	clock.Advance(10 * time.Minute)
	_, err = c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.MaybeStale("c1") }, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.PageErr(key))
	assert.Equal(t, []string{"m1"}, ids(c.Messages("c1")))
}

func TestInvalidateConversationTriggersRefetch(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	c, _ := newTestCache(t, f, Options{})
	key := Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	c.InvalidateConversation("c1")
	_, err = c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.count(key) == 2 }, time.Second, 5*time.Millisecond)
}

func TestEnterConversationResetsCursorWhenStale(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, true, serverMsg("c1", "m2", t0))
	f.setPage("c1", 2, false, serverMsg("c1", "m1", t0.Add(-time.Hour)))
	c, clock := newTestCache(t, f, Options{})

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	_, err = c.GetMessages(context.Background(), "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, Cursor{Page: 2}, c.Cursor("c1"))

	assert.False(t, c.EnterConversation("c1"))

	clock.Advance(6 * time.Minute)
	assert.True(t, c.EnterConversation("c1"))
	assert.Equal(t, Cursor{Page: 1, HasNext: true}, c.Cursor("c1"))
	assert.Len(t, c.Messages("c1"), 2, "loaded messages stay visible")
}

func TestSweepEvictsIdleThreadsButNotPending(t *testing.T) {
	c, clock := newTestCache(t, newFakeFetcher(), Options{IdleEvictAfter: 10 * time.Minute})
	c.PutConversation(model.Conversation{ID: "c1", LastActivityAt: t0})
	c.UpsertMessage(serverMsg("c1", "m1", t0))
	c.UpsertMessage(localMsg("c2", "local-x", 1, t0))

	clock.Advance(5 * time.Minute)
	assert.Zero(t, c.Sweep())

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Nil(t, c.Messages("c1"))
	assert.Len(t, c.Messages("c2"), 1)

	_, ok := c.Conversation("c1")
	assert.True(t, ok, "summary survives message eviction")
}

func TestJanitorSweepsOnTicker(t *testing.T) {
	c, clock := newTestCache(t, newFakeFetcher(), Options{IdleEvictAfter: time.Minute, SweepInterval: 30 * time.Second})
	c.UpsertMessage(serverMsg("c1", "m1", t0))
	c.Start()

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return c.Threads() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCapacityEvictionSkipsPinnedThreads(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher(), Options{MaxThreads: 2})

	c.UpsertMessage(localMsg("c1", "local-1", 1, t0))
	c.UpsertMessage(serverMsg("c2", "m2", t0))
	c.UpsertMessage(serverMsg("c3", "m3", t0))

	assert.Len(t, c.Messages("c1"), 1, "pending thread is kept")
	assert.Nil(t, c.Messages("c2"), "least recently used unpinned thread is evicted")
	assert.Len(t, c.Messages("c3"), 1)
	assert.Equal(t, 2, c.Threads())
}

func TestCapacityGrowsWhenAllPinned(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher(), Options{MaxThreads: 2})
	for i := 1; i <= 3; i++ {
		conv := fmt.Sprintf("c%d", i)
		c.UpsertMessage(localMsg(conv, "local-"+conv, uint64(i), t0))
	}
	assert.Equal(t, 3, c.Threads())
}

func TestConversationsOrderedAndMerged(t *testing.T) {
	f := newFakeFetcher()
	f.convs[1] = model.ConversationPage{
		Conversations: []model.Conversation{
			{ID: "old", LastActivityAt: t0.Add(-time.Hour), UnreadCount: 1},
			{ID: "new", LastActivityAt: t0, UnreadCount: 2},
		},
		Pagination: model.Pagination{Page: 1, HasNext: true},
	}
	c, _ := newTestCache(t, f, Options{})

	convs, err := c.LoadConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "new", convs[0].ID)
	assert.Equal(t, 3, c.TotalUnread())
	assert.Equal(t, Cursor{Page: 1, HasNext: true}, c.ListCursor())

	// A message in the older conversation moves it to the top.
	c.UpsertMessage(serverMsg("old", "m9", t0.Add(time.Minute)))
	convs = c.Conversations()
	assert.Equal(t, "old", convs[0].ID)
	assert.Equal(t, "m9", convs[0].LastMessagePreview)
}

func TestSetUnreadCountPublishesTotal(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindUnreadChanged, 8)
	defer unsub()

	c, _ := newTestCache(t, newFakeFetcher(), Options{Bus: b})
	c.PutConversation(model.Conversation{ID: "c1", UnreadCount: 3})
	c.PutConversation(model.Conversation{ID: "c2", UnreadCount: 2})
	<-events
	<-events

	c.SetUnreadCount("c1", 0)
	select {
	case evt := <-events:
		total, ok := evt.Payload.(bus.UnreadTotal)
		require.True(t, ok)
		assert.Equal(t, bus.UnreadTotal{ConversationID: "c1", Count: 0, Total: 2}, total)
	case <-time.After(time.Second):
		t.Fatal("no unread event")
	}
	assert.Equal(t, 2, c.TotalUnread())

	c.SetUnreadCount("c1", 0)
	select {
	case evt := <-events:
		t.Fatalf("unexpected event for unchanged count: %+v", evt)
	default:
	}
}

func TestMutationsPublishMessagesChanged(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("cache.", 8)
	defer unsub()

	c, _ := newTestCache(t, newFakeFetcher(), Options{Bus: b})
	c.UpsertMessage(serverMsg("c1", "m1", t0))

	evt := <-events
	assert.Equal(t, bus.KindMessagesChanged, evt.Kind)
	assert.Equal(t, bus.ConversationRef{ConversationID: "c1"}, evt.Payload)
}

func TestLocalSendsKeepSequenceWhenClockStepsBack(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher(), Options{})
	c.UpsertMessage(serverMsg("c1", "m0", t0.Add(-time.Hour)))

	c.UpsertMessage(localMsg("c1", "local-a", 1, t0))
	c.UpsertMessage(localMsg("c1", "local-b", 2, t0.Add(-2*time.Second)))
	c.UpsertMessage(serverMsg("c1", "m1", t0.Add(time.Minute)))

	assert.Equal(t, []string{"m0", "local-a", "local-b", "m1"}, ids(c.Messages("c1")))
}

func TestPinnedThreadSurvivesSweep(t *testing.T) {
	c, clock := newTestCache(t, newFakeFetcher(), Options{IdleEvictAfter: 10 * time.Minute})
	c.Pin("c1")
	c.UpsertMessage(serverMsg("c1", "m1", t0))

	clock.Advance(11 * time.Minute)
	assert.Zero(t, c.Sweep())
	assert.Len(t, c.Messages("c1"), 1)

	c.Unpin("c1")
	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
}

func TestSyncFailureOnlyFlagsMaybeStale(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	f.convs[1] = model.ConversationPage{Conversations: []model.Conversation{{ID: "c1", LastActivityAt: t0}}}
	c, _ := newTestCache(t, f, Options{})
	msgKey := Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}
	listKey := Key{Scope: ScopeList, Page: 1}

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	_, err = c.LoadConversations(context.Background(), 1)
	require.NoError(t, err)

	f.fail(msgKey, errors.New("503"))
	f.fail(listKey, errors.New("503"))
	assert.Error(t, c.SyncMessages(context.Background(), "c1"))
	assert.Error(t, c.SyncConversations(context.Background()))

	assert.True(t, c.MaybeStale("c1"))
	assert.True(t, c.ConversationsMaybeStale())
	assert.NoError(t, c.PageErr(msgKey))
	assert.NoError(t, c.PageErr(listKey))
	assert.Equal(t, []string{"m1"}, ids(c.Messages("c1")))

	// The foreground refresh still reports on the page.
	assert.Error(t, c.RefreshMessages(context.Background(), "c1"))
	assert.Error(t, c.PageErr(msgKey))
}

func TestNoBackgroundRefreshAfterStop(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	c, clock := newTestCache(t, f, Options{})
	key := Key{Scope: ScopeMessages, ConversationID: "c1", Page: 1}

	_, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	c.Stop()

	clock.Advance(10 * time.Minute)
	msgs, err := c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Never(t, func() bool { return f.count(key) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestResetForgetsConversationsAndThreads(t *testing.T) {
	f := newFakeFetcher()
	f.setPage("c1", 1, false, serverMsg("c1", "m1", t0))
	f.convs[1] = model.ConversationPage{
		Conversations: []model.Conversation{{ID: "c1", LastActivityAt: t0, UnreadCount: 3}},
		Pagination:    model.Pagination{Page: 1, HasNext: true},
	}
	c, _ := newTestCache(t, f, Options{})

	_, err := c.LoadConversations(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.GetMessages(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Equal(t, 3, c.TotalUnread())

	c.Reset()

	assert.Empty(t, c.Conversations())
	assert.Zero(t, c.TotalUnread())
	assert.Nil(t, c.Messages("c1"))
	assert.Equal(t, Cursor{}, c.ListCursor())
	assert.Zero(t, c.Threads())

	// Loading again hits the API instead of a leftover page.
	before := f.count(Key{Scope: ScopeList, Page: 1})
	_, err = c.LoadConversations(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.count(Key{Scope: ScopeList, Page: 1}))
}

// gatedFetcher holds list calls until release is closed.
type gatedFetcher struct {
	*fakeFetcher
	started chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) ListConversations(ctx context.Context, page int) (*model.ConversationPage, error) {
	close(g.started)
	<-g.release
	return g.fakeFetcher.ListConversations(ctx, page)
}

func TestFetchOvertakenByResetIsDropped(t *testing.T) {
	f := newFakeFetcher()
	f.convs[1] = model.ConversationPage{Conversations: []model.Conversation{{ID: "old-user", LastActivityAt: t0, UnreadCount: 2}}}
	g := &gatedFetcher{fakeFetcher: f, started: make(chan struct{}), release: make(chan struct{})}
	c, _ := newTestCache(t, g, Options{})

	errc := make(chan error, 1)
	go func() { errc <- c.RefreshConversations(context.Background()) }()
	<-g.started
	c.Reset()
	close(g.release)

	assert.ErrorIs(t, <-errc, ErrReset)
	assert.Empty(t, c.Conversations())
	assert.Zero(t, c.TotalUnread())
}
