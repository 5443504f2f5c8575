// Package readstate marks conversations read on the server once the user
// has actually looked at them.
package readstate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/bus"
	"go.uber.org/zap"
)

// Marker performs the mark-read network call.
type Marker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// UnreadStore holds per-conversation unread counters.
type UnreadStore interface {
	UnreadCount(conversationID string) int
	SetUnreadCount(conversationID string, n int)
}

// Options configures a Tracker.
type Options struct {
	Dwell          time.Duration
	CoalesceWindow time.Duration
	Clock          clockwork.Clock
	Bus            *bus.Bus
	Logger         *zap.Logger
}

type call struct {
	done chan struct{}
	err  error
}

type convState struct {
	dwell    clockwork.Timer
	trailing clockwork.Timer
	lastCall time.Time
	inflight *call
}

// Tracker debounces focus into mark-read calls and coalesces repeated calls
// so each conversation costs at most one request per window.
type Tracker struct {
	marker Marker
	store  UnreadStore
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger

	mu    sync.Mutex
	convs map[string]*convState
	// ctx carries the calls of the current session; Reset replaces it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Tracker.
func New(marker Marker, store UnreadStore, opts Options) *Tracker {
	if opts.Dwell < 0 {
		opts.Dwell = 0
	}
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = 2 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	t := &Tracker{
		marker: marker,
		store:  store,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		convs:  make(map[string]*convState),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// Focus starts the dwell timer for a conversation that became visible.
func (t *Tracker) Focus(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(conversationID)
	if st.dwell != nil {
		st.dwell.Stop()
	}
	st.dwell = t.clock.AfterFunc(t.opts.Dwell, func() {
		_ = t.MarkRead(t.sessionCtx(), conversationID)
	})
}

// Blur cancels a pending dwell timer.
func (t *Tracker) Blur(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.convs[conversationID]; ok && st.dwell != nil {
		st.dwell.Stop()
		st.dwell = nil
	}
}

// MarkRead marks a conversation read. A call made while another is in
// flight joins it; a call within the coalescing window of the last
// successful one is absorbed, with a single trailing call scheduled when
// unread messages remain. Failures are logged and returned; the next focus
// tries again.
func (t *Tracker) MarkRead(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	st := t.stateLocked(conversationID)
	if c := st.inflight; c != nil {
		t.mu.Unlock()
		return wait(ctx, c)
	}
	now := t.clock.Now()
	if !st.lastCall.IsZero() {
		if elapsed := now.Sub(st.lastCall); elapsed < t.opts.CoalesceWindow {
			if st.trailing == nil && t.store.UnreadCount(conversationID) > 0 {
				st.trailing = t.clock.AfterFunc(t.opts.CoalesceWindow-elapsed, func() {
					t.mu.Lock()
					st.trailing = nil
					t.mu.Unlock()
					_ = t.MarkRead(t.sessionCtx(), conversationID)
				})
			}
			t.mu.Unlock()
			return nil
		}
	}
	c := &call{done: make(chan struct{})}
	st.inflight = c
	st.lastCall = now
	callCtx := t.ctx
	t.mu.Unlock()

	c.err = t.marker.MarkRead(callCtx, conversationID)

	t.mu.Lock()
	st.inflight = nil
	if c.err != nil {
		st.lastCall = time.Time{}
	}
	t.mu.Unlock()
	close(c.done)

	if c.err != nil {
		t.logger.Warn("mark read failed", zap.String("conversation_id", conversationID), zap.Error(c.err))
		return c.err
	}
	t.store.SetUnreadCount(conversationID, 0)
	t.opts.Bus.Emit(bus.KindReadMarked, bus.ConversationRef{ConversationID: conversationID})
	t.logger.Debug("conversation marked read", zap.String("conversation_id", conversationID))
	return nil
}

// Close stops all timers and cancels in-flight calls.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.stopTimersLocked()
	cancel := t.cancel
	t.mu.Unlock()
	cancel()
}

// Reset forgets every conversation's timers and coalescing state and
// cancels in-flight calls, for logout. The tracker stays usable.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.stopTimersLocked()
	t.convs = make(map[string]*convState)
	cancel := t.cancel
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()
	cancel()
}

func (t *Tracker) stopTimersLocked() {
	for _, st := range t.convs {
		if st.dwell != nil {
			st.dwell.Stop()
		}
		if st.trailing != nil {
			st.trailing.Stop()
		}
	}
}

func (t *Tracker) sessionCtx() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

func (t *Tracker) stateLocked(conversationID string) *convState {
	st, ok := t.convs[conversationID]
	if !ok {
		st = &convState{}
		t.convs[conversationID] = st
	}
	return st
}

func wait(ctx context.Context, c *call) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
