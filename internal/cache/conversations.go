package cache

import (
	"context"
	"sort"

	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
)

// LoadConversations makes sure a page of the conversation list is loaded and
// returns the full ordered list. Staleness and failures behave as in
// GetMessages.
func (c *Cache) LoadConversations(ctx context.Context, page int) ([]model.Conversation, error) {
	if page < 1 {
		page = 1
	}
	c.mu.Lock()
	if p, ok := c.listPages[page]; ok && !p.fetchedAt.IsZero() {
		if c.stale(p) && !p.refreshing {
			p.refreshing = c.refreshInBackground(Key{Scope: ScopeList, Page: page})
		}
		c.mu.Unlock()
		return c.Conversations(), nil
	}
	c.mu.Unlock()

	err := c.fetchConversations(ctx, page, false)
	return c.Conversations(), err
}

// RefreshConversations refetches the first page of the list synchronously.
func (c *Cache) RefreshConversations(ctx context.Context) error {
	return c.fetchConversations(ctx, 1, false)
}

// SyncConversations refetches the first page of the list for a background
// refresher. A failure only raises ConversationsMaybeStale.
func (c *Cache) SyncConversations(ctx context.Context) error {
	return c.fetchConversations(ctx, 1, true)
}

func (c *Cache) fetchConversations(ctx context.Context, page int, background bool) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	res, err := c.fetcher.ListConversations(ctx, page)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrReset
	}
	p, ok := c.listPages[page]
	if !ok {
		p = &pageState{}
		c.listPages[page] = p
	}
	p.refreshing = false
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case background:
			c.listStale = true
		default:
			p.err = err
		}
		c.mu.Unlock()
		c.emit([]bus.Event{c.event(bus.KindConversationsChanged, nil)})
		return err
	}

	p.err = nil
	p.fetchedAt = c.clock.Now()
	p.hasNext = res.Pagination.HasNext
	p.invalidated = false
	c.listStale = false
	if page >= c.listCursor.Page {
		c.listCursor = Cursor{Page: page, HasNext: res.Pagination.HasNext}
	}

	unreadChanged := false
	for _, conv := range res.Conversations {
		if c.mergeConversationLocked(conv) {
			unreadChanged = true
		}
	}
	events := []bus.Event{c.event(bus.KindConversationsChanged, nil)}
	if unreadChanged {
		events = append(events, c.event(bus.KindUnreadChanged, bus.UnreadTotal{Total: c.totalUnreadLocked()}))
	}
	c.mu.Unlock()

	c.emit(events)
	return nil
}

// mergeConversationLocked stores a server summary. A newer local preview
// (from a message sent or received since) is kept. Reports whether the
// unread count changed.
func (c *Cache) mergeConversationLocked(in model.Conversation) bool {
	cur, ok := c.convs[in.ID]
	if !ok {
		cp := in
		c.convs[in.ID] = &cp
		return in.UnreadCount != 0
	}
	unreadChanged := cur.UnreadCount != in.UnreadCount
	if cur.LastActivityAt.After(in.LastActivityAt) {
		in.LastActivityAt = cur.LastActivityAt
		in.LastMessagePreview = cur.LastMessagePreview
	}
	*cur = in
	return unreadChanged
}

// PutConversation stores a single summary, for instance one just created.
func (c *Cache) PutConversation(conv model.Conversation) {
	c.mu.Lock()
	unread := c.mergeConversationLocked(conv)
	events := []bus.Event{c.event(bus.KindConversationsChanged, nil)}
	if unread {
		events = append(events, c.event(bus.KindUnreadChanged, bus.UnreadTotal{
			ConversationID: conv.ID,
			Count:          conv.UnreadCount,
			Total:          c.totalUnreadLocked(),
		}))
	}
	c.mu.Unlock()
	c.emit(events)
}

// Conversations returns summaries ordered by last activity, newest first.
func (c *Cache) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns one summary.
func (c *Cache) Conversation(id string) (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// SetUnreadCount sets the unread counter of a conversation and recomputes
// the total badge.
func (c *Cache) SetUnreadCount(conversationID string, n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	conv, ok := c.convs[conversationID]
	if !ok || conv.UnreadCount == n {
		c.mu.Unlock()
		return
	}
	conv.UnreadCount = n
	if n == 0 {
		if t, ok := c.threads.Peek(conversationID); ok {
			for _, e := range t.entries {
				e.msg.Read = true
			}
		}
	}
	events := []bus.Event{
		c.event(bus.KindUnreadChanged, bus.UnreadTotal{ConversationID: conversationID, Count: n, Total: c.totalUnreadLocked()}),
		c.event(bus.KindConversationsChanged, nil),
	}
	c.mu.Unlock()
	c.emit(events)
}

// UnreadCount returns the unread counter of one conversation.
func (c *Cache) UnreadCount(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[conversationID]; ok {
		return conv.UnreadCount
	}
	return 0
}

// TotalUnread returns the sum of unread counters, the app badge.
func (c *Cache) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalUnreadLocked()
}

func (c *Cache) totalUnreadLocked() int {
	total := 0
	for _, conv := range c.convs {
		total += conv.UnreadCount
	}
	return total
}

// ListCursor returns the pagination cursor of the conversation list.
func (c *Cache) ListCursor() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCursor
}

// ConversationsMaybeStale reports whether the last background refresh of the
// list failed.
func (c *Cache) ConversationsMaybeStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listStale
}

// InvalidateConversations marks the list stale so the next load refetches.
func (c *Cache) InvalidateConversations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.listPages {
		p.invalidated = true
	}
}
