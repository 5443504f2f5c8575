// Package chat holds the screen controllers: the conversation list and the
// conversation thread. They read from the cache and drive the send
// pipeline and read tracker; views render what they expose.
package chat

import (
	"context"
	"sync"

	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/cache"
	"github.com/matheus3301/handychat/internal/model"
	"go.uber.org/zap"
)

// ListController backs the conversation list screen.
type ListController struct {
	cache  *cache.Cache
	logger *zap.Logger
	w      *watcher

	mu      sync.Mutex
	err     error
	loading bool
}

// NewListController creates a list controller. It is notified of every
// cache change until Close.
func NewListController(c *cache.Cache, b *bus.Bus, logger *zap.Logger) *ListController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListController{
		cache:  c,
		logger: logger,
		w:      watch(b, "cache.", nil),
	}
}

// Load shows the first page, from cache when available.
func (l *ListController) Load(ctx context.Context) error {
	_, err := l.cache.LoadConversations(ctx, 1)
	l.setErr(err)
	return err
}

// Refresh refetches the first page regardless of staleness.
func (l *ListController) Refresh(ctx context.Context) error {
	err := l.cache.RefreshConversations(ctx)
	l.setErr(err)
	return err
}

// LoadMore fetches the next page if there is one and none is loading.
func (l *ListController) LoadMore(ctx context.Context) error {
	cur := l.cache.ListCursor()
	if cur.Page > 0 && !cur.HasNext {
		return nil
	}
	l.mu.Lock()
	if l.loading {
		l.mu.Unlock()
		return nil
	}
	l.loading = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.loading = false
		l.mu.Unlock()
	}()

	_, err := l.cache.LoadConversations(ctx, cur.Page+1)
	l.setErr(err)
	return err
}

// Conversations returns the list, most recently active first.
func (l *ListController) Conversations() []model.Conversation {
	return l.cache.Conversations()
}

// TotalUnread is the badge count.
func (l *ListController) TotalUnread() int {
	return l.cache.TotalUnread()
}

// HasMore reports whether another page can be loaded.
func (l *ListController) HasMore() bool {
	cur := l.cache.ListCursor()
	return cur.Page == 0 || cur.HasNext
}

// Err returns the error of the last load, nil once a load succeeds.
func (l *ListController) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// MaybeStale reports whether a background refresh of the list failed.
func (l *ListController) MaybeStale() bool {
	return l.cache.ConversationsMaybeStale()
}

// Changes signals that the list or badge may have changed.
func (l *ListController) Changes() <-chan struct{} {
	return l.w.ch
}

// Close stops change notifications.
func (l *ListController) Close() {
	l.w.close()
}

func (l *ListController) setErr(err error) {
	if err != nil {
		l.logger.Debug("conversation list load failed", zap.Error(err))
	}
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}
