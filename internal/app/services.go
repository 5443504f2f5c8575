package app

import (
	"context"

	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/cache"
	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/config"
	"github.com/matheus3301/handychat/internal/media"
	"github.com/matheus3301/handychat/internal/outbox"
	"github.com/matheus3301/handychat/internal/push"
	"github.com/matheus3301/handychat/internal/readstate"
	"github.com/matheus3301/handychat/internal/session"
	intsync "github.com/matheus3301/handychat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type clientParams struct {
	fx.In

	Config     *config.Config
	Bus        *bus.Bus
	Session    *session.Session
	Onboarding *session.Onboarding
	API        *api.Client
	Cache      *cache.Cache
	Preparer   *media.Preparer
	Pipeline   *outbox.Pipeline
	Reads      *readstate.Tracker
	Sync       *intsync.Engine
	Devices    *push.Registrar
	Logger     *zap.Logger
}

// Client is the handle the UI and the CLI commands use once the graph is
// running.
type Client struct {
	Config     *config.Config
	Bus        *bus.Bus
	Session    *session.Session
	Onboarding *session.Onboarding
	API        *api.Client
	Cache      *cache.Cache
	Preparer   *media.Preparer
	Pipeline   *outbox.Pipeline
	Reads      *readstate.Tracker
	Sync       *intsync.Engine
	Devices    *push.Registrar
	Logger     *zap.Logger
}

func newClient(p clientParams) *Client {
	return &Client{
		Config:     p.Config,
		Bus:        p.Bus,
		Session:    p.Session,
		Onboarding: p.Onboarding,
		API:        p.API,
		Cache:      p.Cache,
		Preparer:   p.Preparer,
		Pipeline:   p.Pipeline,
		Reads:      p.Reads,
		Sync:       p.Sync,
		Devices:    p.Devices,
		Logger:     p.Logger,
	}
}

// Conversations returns a controller for the conversation list.
func (c *Client) Conversations() *chat.ListController {
	return chat.NewListController(c.Cache, c.Bus, c.Logger.Named("list"))
}

// Thread is a conversation screen. Close it when the screen goes away.
type Thread struct {
	*chat.ThreadController
	sync    *intsync.Engine
	watched string
}

// OpenThread returns a controller for route. While it is open the sync
// engine keeps its messages fresh.
func (c *Client) OpenThread(route chat.Route) *Thread {
	t := &Thread{
		ThreadController: chat.NewThreadController(route, chat.ThreadDeps{
			Cache:    c.Cache,
			Creator:  c.API,
			Sender:   c.Pipeline,
			Preparer: c.Preparer,
			Reads:    c.Reads,
			Bus:      c.Bus,
			Logger:   c.Logger.Named("thread"),
		}),
		sync: c.Sync,
	}
	t.watch()
	return t
}

// Submit sends body and the draft, starting to watch a conversation that was
// created by this send.
func (t *Thread) Submit(ctx context.Context, body string) (*outbox.Handle, error) {
	h, err := t.ThreadController.Submit(ctx, body)
	t.watch()
	return h, err
}

func (t *Thread) watch() {
	if t.watched != "" {
		return
	}
	if id := t.ConversationID(); id != "" {
		t.watched = id
		t.sync.Watch(id)
	}
}

// Close stops watching and releases the controller.
func (t *Thread) Close() {
	if t.watched != "" {
		t.sync.Unwatch(t.watched)
		t.watched = ""
	}
	t.ThreadController.Close()
}

// Login starts a session with token.
func (c *Client) Login(ctx context.Context, token string) error {
	return c.Session.Initialize(ctx, token)
}

// Logout unregisters the device and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	return c.Session.Teardown(ctx)
}
