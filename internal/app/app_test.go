package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/matheus3301/handychat/internal/api/apitest"
	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/config"
	"github.com/matheus3301/handychat/internal/lock"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func testToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: sub}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func setup(t *testing.T) (*apitest.Server, Params) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HANDYCHAT_HOME", home)
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvProfile, "")

	srv := apitest.NewServer()
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.Sync.PollInterval = config.D(time.Hour)
	cfgPath := filepath.Join(home, "config.toml")
	require.NoError(t, config.Save(cfgPath, cfg))

	return srv, Params{Profile: "test", ConfigPath: cfgPath, Command: "handychat", Exclusive: true}
}

func start(t *testing.T, p Params) (*fxtest.App, *Client) {
	t.Helper()
	var c *Client
	a := fxtest.New(t, Module(p), fx.Populate(&c))
	a.RequireStart()
	return a, c
}

func TestClientSendsThroughWiredGraph(t *testing.T) {
	srv, p := setup(t)
	token := testToken(t, "me")
	srv.Token = token
	srv.AddConversation(model.Conversation{ID: "c1", Participants: []model.Participant{{ID: "me"}, {ID: "bob", Name: "Bob"}}})

	a, c := start(t, p)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, token))

	list := c.Conversations()
	defer list.Close()
	require.NoError(t, list.Load(ctx))
	require.Len(t, list.Conversations(), 1)

	thread := c.OpenThread(chat.Route{ConversationID: "c1"})
	require.NoError(t, thread.Open(ctx))
	h, err := thread.Submit(ctx, "on my way")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := h.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "me", msg.SenderID)
	assert.Len(t, srv.Messages("c1"), 1)
	thread.Close()

	a.RequireStop()
}

func TestSessionSurvivesRestartAndLockIsExclusive(t *testing.T) {
	_, p := setup(t)
	token := testToken(t, "me")

	a, c := start(t, p)
	require.NoError(t, c.Login(context.Background(), token))

	_, err := lock.Acquire(session.Dir(p.Profile), "other")
	var inUse *lock.InUseError
	assert.True(t, errors.As(err, &inUse), "second client must not open the profile: %v", err)
	a.RequireStop()

	a, c = start(t, p)
	assert.True(t, c.Session.Active())
	assert.Equal(t, "me", c.Session.UserID())

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.Session.Active())
	a.RequireStop()
}

func TestPolicyReloadsWhenConfigChanges(t *testing.T) {
	_, p := setup(t)
	a, c := start(t, p)
	defer a.RequireStop()

	cfg := config.Default()
	cfg.Attachments.ImageMaxBytes = 1 << 20
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, config.Save(p.ConfigPath, cfg))

	assert.Eventually(t, func() bool {
		return c.Preparer.Policy().ImageMaxBytes == 1<<20
	}, 3*time.Second, 20*time.Millisecond)

	_, err := os.Stat(session.LogPath(p.Profile))
	assert.NoError(t, err)
}

func TestResolveParams(t *testing.T) {
	_, p := setup(t)

	got, err := ResolveParams("", p.ConfigPath, "handyctl")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Profile)
	assert.Equal(t, "handyctl", got.Command)

	got, err = ResolveParams("work", p.ConfigPath, "handyctl")
	require.NoError(t, err)
	assert.Equal(t, "work", got.Profile)

	_, err = ResolveParams("../etc", p.ConfigPath, "handyctl")
	assert.Error(t, err)
}

func TestLogoutForgetsPreviousUser(t *testing.T) {
	srv, p := setup(t)
	srv.AddConversation(model.Conversation{
		ID:                 "c1",
		Participants:       []model.Participant{{ID: "alice"}, {ID: "bob", Name: "Bob"}},
		LastMessagePreview: "alice's secret",
		UnreadCount:        3,
	})

	a, c := start(t, p)
	defer a.RequireStop()
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, testToken(t, "alice")))

	list := c.Conversations()
	defer list.Close()
	require.NoError(t, list.Load(ctx))
	require.Equal(t, 3, c.Cache.TotalUnread())

	srv.FailNext(apitest.RouteSendMessage, 500)
	thread := c.OpenThread(chat.Route{ConversationID: "c1"})
	h, err := thread.Submit(ctx, "draft for bob")
	require.NoError(t, err)
	<-h.Done()
	thread.Close()
	require.Len(t, c.Pipeline.Failed(), 1)

	require.NoError(t, c.Logout(ctx))

	assert.False(t, c.Session.Active())
	assert.Empty(t, list.Conversations())
	assert.Zero(t, c.Cache.TotalUnread())
	assert.Nil(t, c.Cache.Messages("c1"))
	assert.Empty(t, c.Pipeline.Failed())

	require.NoError(t, c.Login(ctx, testToken(t, "carol")))
	calls := srv.Calls(apitest.RouteListConversations)
	require.NoError(t, list.Load(ctx))
	assert.Equal(t, calls+1, srv.Calls(apitest.RouteListConversations), "list is fetched again for the new user")
}
