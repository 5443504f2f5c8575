package outbox

import (
	"context"
	"sync"

	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/status"
)

// Update is one observable step of a send attempt.
type Update struct {
	ClientID string
	State    status.State
	Message  model.Message
	Err      error
}

// Handle follows a single send attempt. A retry returns a new Handle.
type Handle struct {
	clientID string
	updates  chan Update
	done     chan struct{}

	mu     sync.Mutex
	last   Update
	closed bool
}

func newHandle(clientID string) *Handle {
	return &Handle{
		clientID: clientID,
		updates:  make(chan Update, 16),
		done:     make(chan struct{}),
	}
}

// ClientID returns the temporary identifier of the message.
func (h *Handle) ClientID() string { return h.clientID }

// Updates delivers state changes of this attempt and is closed after the
// terminal one.
func (h *Handle) Updates() <-chan Update { return h.updates }

// Done is closed when the attempt reaches sent or failed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Last returns the most recent update.
func (h *Handle) Last() Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Wait blocks until the attempt finishes or ctx ends. Cancelling ctx does
// not cancel the send.
func (h *Handle) Wait(ctx context.Context) (model.Message, error) {
	select {
	case <-h.done:
		u := h.Last()
		return u.Message, u.Err
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

func (h *Handle) push(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = u
	select {
	case h.updates <- u:
	default:
	}
	if u.State.Terminal() {
		h.closed = true
		close(h.updates)
		close(h.done)
	}
}
