// Package sync keeps the cache current: it reacts to push notifications and
// polls on an interval, refetching through the cache so incoming messages
// merge like any other page.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/push"
	"go.uber.org/zap"
)

// Refresher is the part of the cache the engine drives.
type Refresher interface {
	SyncConversations(ctx context.Context) error
	SyncMessages(ctx context.Context, conversationID string) error
	InvalidateConversation(conversationID string)
}

// Engine refreshes the conversation list and watched threads.
type Engine struct {
	cache    Refresher
	bus      *bus.Bus
	clock    clockwork.Clock
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	watched map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a sync engine polling every interval; zero disables
// polling.
func NewEngine(cache Refresher, b *bus.Bus, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cache:    cache,
		bus:      b,
		clock:    clock,
		interval: interval,
		logger:   logger,
		watched:  make(map[string]int),
	}
}

// Start subscribes to push notifications and starts polling.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindPushNotification, 64)

	var tick <-chan time.Time
	var ticker clockwork.Ticker
	if e.interval > 0 {
		ticker = e.clock.NewTicker(e.interval)
		tick = ticker.Chan()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-tick:
				e.Poll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current refresh.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Watch marks a conversation as on screen so polls refresh its messages.
// Calls nest; each Watch needs an Unwatch.
func (e *Engine) Watch(conversationID string) {
	e.mu.Lock()
	e.watched[conversationID]++
	e.mu.Unlock()
}

// Unwatch undoes Watch.
func (e *Engine) Unwatch(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watched[conversationID] <= 1 {
		delete(e.watched, conversationID)
		return
	}
	e.watched[conversationID]--
}

func (e *Engine) isWatched(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watched[conversationID] > 0
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	n, ok := evt.Payload.(push.Notification)
	if !ok {
		return
	}
	e.logger.Debug("push received", zap.String("type", n.Type), zap.String("conversation_id", n.ConversationID))
	if err := e.IngestNotification(ctx, n); err != nil {
		e.logger.Warn("refresh after push failed", zap.String("conversation_id", n.ConversationID), zap.Error(err))
	}
}

// IngestNotification refreshes what a notification touched: the list (for
// previews and badges) and the conversation. A thread not on screen is only
// invalidated and refetches when next opened.
func (e *Engine) IngestNotification(ctx context.Context, n push.Notification) error {
	id := n.ConversationID
	if id == "" {
		if route, err := n.Route(); err == nil && !route.IsNew() {
			id = route.ConversationID
		}
	}
	listErr := e.cache.SyncConversations(ctx)
	if id == "" {
		return listErr
	}
	if !e.isWatched(id) {
		e.cache.InvalidateConversation(id)
		return listErr
	}
	if err := e.cache.SyncMessages(ctx, id); err != nil {
		return err
	}
	return listErr
}

// Poll refreshes the list and every watched conversation once.
func (e *Engine) Poll(ctx context.Context) {
	if err := e.cache.SyncConversations(ctx); err != nil && ctx.Err() == nil {
		e.logger.Debug("poll: conversation list", zap.Error(err))
	}
	e.mu.Lock()
	ids := make([]string, 0, len(e.watched))
	for id := range e.watched {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		if err := e.cache.SyncMessages(ctx, id); err != nil && ctx.Err() == nil {
			e.logger.Debug("poll: messages", zap.String("conversation_id", id), zap.Error(err))
		}
	}
}
