package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/cache"
	"github.com/matheus3301/handychat/internal/media"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/outbox"
	"go.uber.org/zap"
)

// prefetchThreshold is how close to the oldest loaded message a scroll has
// to get before the next page is requested.
const prefetchThreshold = 5

// ErrNoConversation is returned when an operation needs a conversation that
// has not been created yet.
var ErrNoConversation = errors.New("conversation not created yet")

// Route addresses a thread: an existing conversation, or the "new" token
// together with the recipient to start one with.
type Route struct {
	ConversationID  string
	RecipientID     string
	RecipientName   string
	RecipientAvatar string
	JobID           string
}

// IsNew reports whether the route opens a conversation not created yet.
func (r Route) IsNew() bool {
	return r.ConversationID == "" || r.ConversationID == model.NewConversationToken
}

// Creator creates conversations.
type Creator interface {
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*model.Conversation, error)
}

// Sender is the send pipeline.
type Sender interface {
	Send(ctx context.Context, conversationID, body string, attachments []model.Attachment) (*outbox.Handle, error)
	Retry(ctx context.Context, clientID string) (*outbox.Handle, error)
}

// Preparer validates picked files.
type Preparer interface {
	Prepare(ctx context.Context, asset media.PickedAsset) (model.Attachment, error)
}

// ReadTracker is told when the thread is on screen.
type ReadTracker interface {
	Focus(conversationID string)
	Blur(conversationID string)
}

// ThreadDeps are the collaborators of a ThreadController.
type ThreadDeps struct {
	Cache    *cache.Cache
	Creator  Creator
	Sender   Sender
	Preparer Preparer
	Reads    ReadTracker
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// ThreadController backs one conversation screen. Close cancels page
// fetches it started; messages it sent keep going.
type ThreadController struct {
	deps   ThreadDeps
	route  Route
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conversationID string
	draft          []model.Attachment
	err            error
	loadingMore    bool
	focused        bool
	pinned         string
	w              *watcher
}

// NewThreadController creates a controller for route.
func NewThreadController(route Route, deps ThreadDeps) *ThreadController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	t := &ThreadController{
		deps:   deps,
		route:  route,
		logger: deps.Logger.With(zap.String("conversation_id", route.ConversationID)),
	}
	if !route.IsNew() {
		t.conversationID = route.ConversationID
		t.pin(route.ConversationID)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.w = watch(deps.Bus, "", t.relevant)
	return t
}

func (t *ThreadController) relevant(evt bus.Event) bool {
	switch p := evt.Payload.(type) {
	case bus.ConversationRef:
		return p.ConversationID == t.ConversationID()
	default:
		return evt.Kind == bus.KindSendState || evt.Kind == bus.KindConversationsChanged
	}
}

// ConversationID returns the conversation shown, empty until a new
// conversation is created by the first Submit.
func (t *ThreadController) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Route returns the route the controller was opened with.
func (t *ThreadController) Route() Route { return t.route }

// Open loads the newest page. A stale thread is shown from cache and
// refreshed in the background.
func (t *ThreadController) Open(ctx context.Context) error {
	id := t.ConversationID()
	if id == "" {
		return nil
	}
	t.deps.Cache.EnterConversation(id)
	ctx, stop := t.fetchContext(ctx)
	defer stop()
	_, err := t.deps.Cache.GetMessages(ctx, id, 1)
	t.setErr(err)
	return err
}

// Refresh refetches the newest page.
func (t *ThreadController) Refresh(ctx context.Context) error {
	id := t.ConversationID()
	if id == "" {
		return nil
	}
	ctx, stop := t.fetchContext(ctx)
	defer stop()
	err := t.deps.Cache.RefreshMessages(ctx, id)
	t.setErr(err)
	return err
}

// OnScroll reports that the message at index, counted from the newest, is
// visible. Near the oldest loaded message the next page is fetched.
func (t *ThreadController) OnScroll(ctx context.Context, index int) error {
	id := t.ConversationID()
	if id == "" {
		return nil
	}
	if n := len(t.deps.Cache.Messages(id)); index < n-prefetchThreshold {
		return nil
	}
	return t.LoadMore(ctx)
}

// LoadMore fetches the next older page when there is one.
func (t *ThreadController) LoadMore(ctx context.Context) error {
	id := t.ConversationID()
	if id == "" {
		return nil
	}
	cur := t.deps.Cache.Cursor(id)
	if cur.Page > 0 && !cur.HasNext {
		return nil
	}
	t.mu.Lock()
	if t.loadingMore {
		t.mu.Unlock()
		return nil
	}
	t.loadingMore = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.loadingMore = false
		t.mu.Unlock()
	}()

	ctx, stop := t.fetchContext(ctx)
	defer stop()
	_, err := t.deps.Cache.GetMessages(ctx, id, cur.Page+1)
	t.setErr(err)
	return err
}

// HasMore reports whether older pages remain.
func (t *ThreadController) HasMore() bool {
	id := t.ConversationID()
	if id == "" {
		return false
	}
	cur := t.deps.Cache.Cursor(id)
	return cur.Page == 0 || cur.HasNext
}

// Messages returns the thread, oldest first.
func (t *ThreadController) Messages() []model.Message {
	id := t.ConversationID()
	if id == "" {
		return nil
	}
	return t.deps.Cache.Messages(id)
}

// Conversation returns the summary of the thread when known.
func (t *ThreadController) Conversation() (model.Conversation, bool) {
	id := t.ConversationID()
	if id == "" {
		return model.Conversation{}, false
	}
	return t.deps.Cache.Conversation(id)
}

// Focus reports the thread visible to the user.
func (t *ThreadController) Focus() {
	t.mu.Lock()
	t.focused = true
	id := t.conversationID
	t.mu.Unlock()
	if id != "" && t.deps.Reads != nil {
		t.deps.Reads.Focus(id)
	}
}

// Blur reports the thread hidden.
func (t *ThreadController) Blur() {
	t.mu.Lock()
	t.focused = false
	id := t.conversationID
	t.mu.Unlock()
	if id != "" && t.deps.Reads != nil {
		t.deps.Reads.Blur(id)
	}
}

// Attach prepares a file for the draft. A rejected file is reported as a
// ValidationError carrying the position it would have had; the draft keeps
// every accepted file.
func (t *ThreadController) Attach(ctx context.Context, path string) (int, error) {
	t.mu.Lock()
	index := len(t.draft)
	t.mu.Unlock()

	att, err := t.deps.Preparer.Prepare(ctx, media.PickedAsset{Path: path})
	if err != nil {
		var e *apperr.Error
		if errors.As(err, &e) && e.Kind == apperr.Validation {
			return -1, apperr.ValidationError(index, e.Message)
		}
		return -1, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.draft = append(t.draft, att)
	return len(t.draft) - 1, nil
}

// RemoveAttachment drops a draft attachment.
func (t *ThreadController) RemoveAttachment(i int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.draft) {
		return fmt.Errorf("no attachment at %d", i)
	}
	t.draft = append(t.draft[:i], t.draft[i+1:]...)
	return nil
}

// Draft returns the attachments waiting to be sent.
func (t *ThreadController) Draft() []model.Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.Attachment(nil), t.draft...)
}

// Submit sends body with the draft attachments. On a new route the
// conversation is created first. The draft is cleared once the message is
// queued.
func (t *ThreadController) Submit(ctx context.Context, body string) (*outbox.Handle, error) {
	draft := t.Draft()
	if strings.TrimSpace(body) == "" && len(draft) == 0 {
		return nil, apperr.ValidationError(-1, "message is empty")
	}

	id, err := t.ensureConversation(ctx)
	if err != nil {
		t.setErr(err)
		return nil, err
	}
	h, err := t.deps.Sender.Send(ctx, id, body, draft)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.draft = nil
	t.mu.Unlock()
	return h, nil
}

// Retry resends a failed message.
func (t *ThreadController) Retry(ctx context.Context, clientID string) (*outbox.Handle, error) {
	return t.deps.Sender.Retry(ctx, clientID)
}

func (t *ThreadController) ensureConversation(ctx context.Context) (string, error) {
	if id := t.ConversationID(); id != "" {
		return id, nil
	}
	if t.route.RecipientID == "" {
		return "", ErrNoConversation
	}
	conv, err := t.deps.Creator.CreateConversation(ctx, api.CreateConversationRequest{
		RecipientID: t.route.RecipientID,
		JobID:       t.route.JobID,
	})
	if err != nil {
		return "", err
	}
	if len(conv.Participants) == 0 {
		conv.Participants = []model.Participant{{ID: t.route.RecipientID, Name: t.route.RecipientName, AvatarURL: t.route.RecipientAvatar}}
	}
	t.deps.Cache.PutConversation(*conv)

	t.mu.Lock()
	t.conversationID = conv.ID
	focused := t.focused
	t.mu.Unlock()
	t.pin(conv.ID)
	t.logger.Info("conversation created", zap.String("created_id", conv.ID), zap.String("recipient_id", t.route.RecipientID))
	if focused && t.deps.Reads != nil {
		t.deps.Reads.Focus(conv.ID)
	}
	return conv.ID, nil
}

// Title returns the display name of the other participant.
func (t *ThreadController) Title(selfID string) string {
	if conv, ok := t.Conversation(); ok {
		if p := conv.Peer(selfID); p.Name != "" {
			return p.Name
		}
		return conv.Peer(selfID).ID
	}
	if t.route.RecipientName != "" {
		return t.route.RecipientName
	}
	return t.route.RecipientID
}

// Err returns the error of the last fetch or conversation creation.
func (t *ThreadController) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// MaybeStale reports whether a background refresh failed.
func (t *ThreadController) MaybeStale() bool {
	id := t.ConversationID()
	return id != "" && t.deps.Cache.MaybeStale(id)
}

// Changes signals that the thread may need a redraw.
func (t *ThreadController) Changes() <-chan struct{} {
	return t.w.ch
}

// Close cancels in-flight page fetches and stops notifications. Sends are
// not affected.
func (t *ThreadController) Close() {
	t.Blur()
	t.cancel()
	t.w.close()

	t.mu.Lock()
	id := t.pinned
	t.pinned = ""
	t.mu.Unlock()
	if id != "" {
		t.deps.Cache.Unpin(id)
	}
}

// pin keeps the thread cached while the screen is open.
func (t *ThreadController) pin(id string) {
	t.mu.Lock()
	if t.pinned != "" {
		t.mu.Unlock()
		return
	}
	t.pinned = id
	t.mu.Unlock()
	t.deps.Cache.Pin(id)
}

// fetchContext derives a context cancelled by either ctx or Close.
func (t *ThreadController) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (t *ThreadController) setErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}
