package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
	"go.uber.org/zap"
)

// ErrReset is returned by a fetch that was overtaken by Reset.
var ErrReset = errors.New("cache reset during fetch")

// entry is one message slot. Its sort key is fixed when the slot is created
// so a temporary message confirmed by the server never moves.
type entry struct {
	sortAt time.Time
	seq    uint64
	key    string
	msg    model.Message
}

// before orders messages sent from this client by local sequence and every
// other pair by (time, id).
func (e *entry) before(o *entry) bool {
	if e.seq > 0 && o.seq > 0 && e.seq != o.seq {
		return e.seq < o.seq
	}
	if !e.sortAt.Equal(o.sortAt) {
		return e.sortAt.Before(o.sortAt)
	}
	if e.seq != o.seq {
		return e.seq < o.seq
	}
	return e.key < o.key
}

func (e *entry) matches(m *model.Message) bool {
	ids := [2]string{e.msg.ID, e.msg.ClientID}
	for _, a := range ids {
		if a == "" {
			continue
		}
		if a == m.ID || a == m.ClientID {
			return true
		}
	}
	return false
}

// GetMessages returns the merged view of a conversation after making sure
// page is loaded. A cached page is served as is; when stale it also triggers
// one background refetch. A failed fetch records an error on that page only
// and the already loaded messages stay in the returned view.
func (c *Cache) GetMessages(ctx context.Context, conversationID string, page int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	key := Key{Scope: ScopeMessages, ConversationID: conversationID, Page: page}

	c.mu.Lock()
	t := c.threadLocked(conversationID)
	if p, ok := t.pages[page]; ok && !p.fetchedAt.IsZero() {
		if c.stale(p) && !p.refreshing {
			p.refreshing = c.refreshInBackground(key)
		}
		msgs := t.snapshot()
		c.mu.Unlock()
		return msgs, nil
	}
	c.mu.Unlock()

	if err := c.fetchMessages(ctx, key, false); err != nil {
		return c.Messages(conversationID), err
	}
	return c.Messages(conversationID), nil
}

// RefreshMessages refetches page 1 of a conversation synchronously. A
// failure is recorded on the page.
func (c *Cache) RefreshMessages(ctx context.Context, conversationID string) error {
	return c.fetchMessages(ctx, Key{Scope: ScopeMessages, ConversationID: conversationID, Page: 1}, false)
}

// SyncMessages refetches page 1 of a conversation on behalf of a background
// refresher. A failure leaves the page as it was and only flags the thread
// through MaybeStale.
func (c *Cache) SyncMessages(ctx context.Context, conversationID string) error {
	return c.fetchMessages(ctx, Key{Scope: ScopeMessages, ConversationID: conversationID, Page: 1}, true)
}

// fetchMessages loads one page and merges it. A background fetch never
// records a page error; it flags the thread as maybe stale instead.
func (c *Cache) fetchMessages(ctx context.Context, key Key, background bool) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	res, err := c.fetcher.ListMessages(ctx, key.ConversationID, key.Page)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrReset
	}
	t := c.threadLocked(key.ConversationID)
	p := t.page(key.Page)
	p.refreshing = false
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case background:
			t.maybeStale = true
		default:
			p.err = err
		}
		c.mu.Unlock()
		c.emit([]bus.Event{c.event(bus.KindMessagesChanged, bus.ConversationRef{ConversationID: key.ConversationID})})
		return err
	}

	p.err = nil
	p.fetchedAt = c.clock.Now()
	p.hasNext = res.Pagination.HasNext
	p.invalidated = false
	t.maybeStale = false
	for i := range res.Messages {
		c.upsertLocked(t, res.Messages[i])
	}
	if key.Page >= t.cursor.Page {
		t.cursor = Cursor{Page: key.Page, HasNext: res.Pagination.HasNext}
	}
	events := []bus.Event{c.event(bus.KindMessagesChanged, bus.ConversationRef{ConversationID: key.ConversationID})}
	if key.Page == 1 && c.touchSummaryLocked(t) {
		events = append(events, c.event(bus.KindConversationsChanged, nil))
	}
	c.mu.Unlock()

	c.emit(events)
	return nil
}

// refreshInBackground refetches key on the cache's own context. Failures are
// only surfaced through MaybeStale. Reports false once the cache is stopped.
// Must be called with mu held.
func (c *Cache) refreshInBackground(key Key) bool {
	if c.stopped {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var err error
		switch key.Scope {
		case ScopeList:
			err = c.fetchConversations(c.ctx, key.Page, true)
		default:
			err = c.fetchMessages(c.ctx, key, true)
		}
		if err != nil {
			c.logger.Debug("background refresh failed",
				zap.String("scope", string(key.Scope)),
				zap.String("conversation_id", key.ConversationID),
				zap.Int("page", key.Page),
				zap.Error(err))
		}
	}()
	return true
}

// Messages returns the merged, ordered view of a conversation.
func (c *Cache) Messages(conversationID string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads.Get(conversationID)
	if !ok {
		return nil
	}
	t.lastAccess = c.clock.Now()
	return t.snapshot()
}

// Message returns the message whose ID or ClientID equals id.
func (c *Cache) Message(conversationID, id string) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads.Peek(conversationID)
	if !ok {
		return model.Message{}, false
	}
	want := model.Message{ID: id}
	for _, e := range t.entries {
		if e.matches(&want) {
			return e.msg, true
		}
	}
	return model.Message{}, false
}

// UpsertMessage inserts msg or replaces the entry whose ID or ClientID equals
// msg's ID or ClientID. A replaced entry keeps its position.
func (c *Cache) UpsertMessage(msg model.Message) {
	c.mu.Lock()
	t := c.threadLocked(msg.ConversationID)
	c.upsertLocked(t, msg)
	events := []bus.Event{c.event(bus.KindMessagesChanged, bus.ConversationRef{ConversationID: msg.ConversationID})}
	if c.touchSummaryLocked(t) {
		events = append(events, c.event(bus.KindConversationsChanged, nil))
	}
	c.mu.Unlock()
	c.emit(events)
}

func (c *Cache) upsertLocked(t *thread, msg model.Message) {
	for _, e := range t.entries {
		if e.matches(&msg) {
			if msg.ClientID == "" {
				msg.ClientID = e.msg.ClientID
			}
			if msg.LocalSeq == 0 {
				msg.LocalSeq = e.msg.LocalSeq
			}
			e.msg = msg
			return
		}
	}

	e := &entry{sortAt: msg.CreatedAt, seq: msg.LocalSeq, key: msg.ID, msg: msg}
	if e.seq > 0 {
		// A local send never sorts before an earlier local send, even when
		// the wall clock went backwards between them.
		for _, o := range t.entries {
			if o.seq > 0 && o.seq < e.seq && o.sortAt.After(e.sortAt) {
				e.sortAt = o.sortAt
			}
		}
	}
	i := sort.Search(len(t.entries), func(i int) bool { return e.before(t.entries[i]) })
	t.entries = append(t.entries, nil)
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

// touchSummaryLocked brings the conversation preview in line with the last
// message of the thread. Reports whether the summary changed.
func (c *Cache) touchSummaryLocked(t *thread) bool {
	conv, ok := c.convs[t.id]
	if !ok || len(t.entries) == 0 {
		return false
	}
	last := t.entries[len(t.entries)-1].msg
	if last.CreatedAt.Before(conv.LastActivityAt) {
		return false
	}
	preview := last.Preview(80)
	if conv.LastActivityAt.Equal(last.CreatedAt) && conv.LastMessagePreview == preview {
		return false
	}
	conv.LastActivityAt = last.CreatedAt
	conv.LastMessagePreview = preview
	return true
}

// InvalidateConversation marks every loaded page of a conversation stale so
// the next read refetches in the background.
func (c *Cache) InvalidateConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads.Peek(conversationID)
	if !ok {
		return
	}
	for _, p := range t.pages {
		p.invalidated = true
	}
}

// EnterConversation prepares a thread for a screen opening it. When page 1
// is stale the pagination cursor restarts from the first page while the
// loaded messages stay visible. Reports whether the thread was stale.
func (c *Cache) EnterConversation(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.threadLocked(conversationID)
	first, ok := t.pages[1]
	if !ok || first.fetchedAt.IsZero() || !c.stale(first) {
		return false
	}
	for n := range t.pages {
		if n != 1 {
			delete(t.pages, n)
		}
	}
	t.cursor = Cursor{Page: 1, HasNext: first.hasNext}
	return true
}

// Cursor returns the pagination cursor of a conversation.
func (c *Cache) Cursor(conversationID string) Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.threads.Peek(conversationID); ok {
		return t.cursor
	}
	return Cursor{}
}

// MaybeStale reports whether the last background refresh of a conversation
// failed, meaning the shown messages may be out of date.
func (c *Cache) MaybeStale(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.threads.Peek(conversationID); ok {
		return t.maybeStale
	}
	return false
}

// PageErr returns the error recorded by the last fetch of key, if it failed.
func (c *Cache) PageErr(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key.Scope == ScopeList {
		if p, ok := c.listPages[key.Page]; ok {
			return p.err
		}
		return nil
	}
	t, ok := c.threads.Peek(key.ConversationID)
	if !ok {
		return nil
	}
	if p, ok := t.pages[key.Page]; ok {
		return p.err
	}
	return nil
}

func (t *thread) page(n int) *pageState {
	p, ok := t.pages[n]
	if !ok {
		p = &pageState{}
		t.pages[n] = p
	}
	return p
}

func (t *thread) snapshot() []model.Message {
	out := make([]model.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg
	}
	return out
}
