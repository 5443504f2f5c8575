// Package cache is the single owner of conversation summaries and message
// threads. Screens read from it, and the send pipeline, read tracker and sync
// engine write to it.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
	"go.uber.org/zap"
)

// Scope namespaces cache keys.
type Scope string

const (
	ScopeList     Scope = "list"
	ScopeMessages Scope = "messages"
)

// Key identifies one cached page.
type Key struct {
	Scope          Scope
	ConversationID string
	Page           int
}

// Cursor is the pagination position of a thread or of the conversation list.
type Cursor struct {
	Page    int // highest page fetched successfully, 0 when none
	HasNext bool
}

// Fetcher loads pages from the API.
type Fetcher interface {
	ListConversations(ctx context.Context, page int) (*model.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID string, page int) (*model.MessagePage, error)
}

// Options configures a Cache.
type Options struct {
	StaleAfter     time.Duration
	IdleEvictAfter time.Duration
	MaxThreads     int
	SweepInterval  time.Duration
	Clock          clockwork.Clock
	Bus            *bus.Bus
	Logger         *zap.Logger
}

type pageState struct {
	fetchedAt   time.Time
	hasNext     bool
	err         error
	refreshing  bool
	invalidated bool
}

// thread holds the merged, ordered messages of one conversation.
type thread struct {
	id         string
	entries    []*entry
	pages      map[int]*pageState
	cursor     Cursor
	lastAccess time.Time
	maybeStale bool
}

// Cache is safe for concurrent use. Every mutation holds mu; bus
// notifications are emitted after it is released.
type Cache struct {
	fetcher Fetcher
	opts    Options
	clock   clockwork.Clock
	bus     *bus.Bus
	logger  *zap.Logger

	mu          sync.Mutex
	convs       map[string]*model.Conversation
	listPages   map[int]*pageState
	listCursor  Cursor
	listStale   bool
	threads     *simplelru.LRU[string, *thread]
	threadLimit int
	pins        map[string]int
	// gen changes on Reset; fetches started under an older gen are dropped.
	gen     uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache that loads missing pages through fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.IdleEvictAfter <= 0 {
		opts.IdleEvictAfter = 10 * time.Minute
	}
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = 32
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Cache{
		fetcher:     fetcher,
		opts:        opts,
		clock:       opts.Clock,
		bus:         opts.Bus,
		logger:      opts.Logger,
		convs:       make(map[string]*model.Conversation),
		listPages:   make(map[int]*pageState),
		threadLimit: opts.MaxThreads,
		pins:        make(map[string]int),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	// Capacity eviction is done by makeRoom so pinned threads survive; the
	// callback only sees removals that already passed that check.
	threads, err := simplelru.NewLRU[string, *thread](opts.MaxThreads, func(id string, _ *thread) {
		c.logger.Debug("thread evicted", zap.String("conversation_id", id))
	})
	if err != nil {
		panic(err) // only for size <= 0, excluded above
	}
	c.threads = threads
	return c
}

// Start runs the idle-eviction janitor until Stop.
func (c *Cache) Start() {
	ticker := c.clock.NewTicker(c.opts.SweepInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.Chan():
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("idle threads evicted", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop ends the janitor and waits for background refreshes to return.
func (c *Cache) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// Reset forgets every conversation and thread, for logout. Fetches still in
// flight when it runs are discarded when they return.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.gen++
	c.convs = make(map[string]*model.Conversation)
	c.listPages = make(map[int]*pageState)
	c.listCursor = Cursor{}
	c.listStale = false
	c.threads.Purge()
	if c.threadLimit != c.opts.MaxThreads {
		c.threads.Resize(c.opts.MaxThreads)
		c.threadLimit = c.opts.MaxThreads
	}
	events := []bus.Event{
		c.event(bus.KindConversationsChanged, nil),
		c.event(bus.KindUnreadChanged, bus.UnreadTotal{}),
	}
	c.mu.Unlock()
	c.logger.Info("cache reset")
	c.emit(events)
}

// Pin keeps a conversation's thread out of eviction while a screen shows
// it. Calls nest; each Pin needs an Unpin.
func (c *Cache) Pin(conversationID string) {
	c.mu.Lock()
	c.pins[conversationID]++
	c.mu.Unlock()
}

// Unpin undoes Pin.
func (c *Cache) Unpin(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pins[conversationID] <= 1 {
		delete(c.pins, conversationID)
		return
	}
	c.pins[conversationID]--
}

// Sweep evicts threads idle longer than IdleEvictAfter. Threads holding
// unconfirmed messages or pinned by a screen are kept. Conversation summaries are never evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for _, id := range c.threads.Keys() {
		t, ok := c.threads.Peek(id)
		if !ok || c.pinnedLocked(t) {
			continue
		}
		if now.Sub(t.lastAccess) >= c.opts.IdleEvictAfter {
			c.threads.Remove(id)
			evicted++
		}
	}
	if c.threadLimit > c.opts.MaxThreads && c.threads.Len() <= c.opts.MaxThreads {
		c.threads.Resize(c.opts.MaxThreads)
		c.threadLimit = c.opts.MaxThreads
	}
	return evicted
}

// Threads returns the number of conversation threads currently held.
func (c *Cache) Threads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threads.Len()
}

// threadLocked returns the thread for id, creating it when absent and
// marking it as accessed.
func (c *Cache) threadLocked(id string) *thread {
	now := c.clock.Now()
	if t, ok := c.threads.Get(id); ok {
		t.lastAccess = now
		return t
	}
	c.makeRoomLocked()
	t := &thread{id: id, pages: make(map[int]*pageState), lastAccess: now}
	c.threads.Add(id, t)
	return t
}

// makeRoomLocked frees one slot before an insert, evicting the least
// recently used thread that is not pinned. When every thread
// is pinned the limit grows until a sweep can shrink it again.
func (c *Cache) makeRoomLocked() {
	if c.threads.Len() < c.threadLimit {
		return
	}
	for _, id := range c.threads.Keys() {
		if t, ok := c.threads.Peek(id); ok && !c.pinnedLocked(t) {
			c.threads.Remove(id)
			return
		}
	}
	c.threadLimit++
	c.threads.Resize(c.threadLimit)
	c.logger.Warn("all cached threads pinned, growing limit", zap.Int("limit", c.threadLimit))
}

func (c *Cache) stale(p *pageState) bool {
	return p.invalidated || c.clock.Since(p.fetchedAt) >= c.opts.StaleAfter
}

func (c *Cache) emit(events []bus.Event) {
	for _, evt := range events {
		c.bus.Publish(evt)
	}
}

func (c *Cache) event(kind string, payload any) bus.Event {
	return bus.Event{Kind: kind, Timestamp: c.clock.Now(), Payload: payload}
}

func (c *Cache) pinnedLocked(t *thread) bool {
	return c.pins[t.id] > 0 || t.hasTemporary()
}

func (t *thread) hasTemporary() bool {
	for _, e := range t.entries {
		if e.msg.IsTemporary() {
			return true
		}
	}
	return false
}
