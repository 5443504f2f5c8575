package push

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/api/apitest"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/chat"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkRoundTrip(t *testing.T) {
	tests := []chat.Route{
		{ConversationID: "c-42"},
		{ConversationID: "with space"},
		{ConversationID: model.NewConversationToken, RecipientID: "h-9", RecipientName: "Sam & Sons", JobID: "job-1"},
	}
	for _, route := range tests {
		link := BuildLink(route)
		assert.True(t, strings.HasPrefix(link, "handychat://conversation/"), link)
		got, err := ParseLink(link)
		require.NoError(t, err, link)
		assert.Equal(t, route, got)
	}
}

func TestParseLinkRejects(t *testing.T) {
	for _, link := range []string{
		"https://example.com/conversation/1",
		"handychat://profile/1",
		"handychat://conversation/",
		"handychat://conversation/a/b",
		"handychat://conversation/new",
	} {
		_, err := ParseLink(link)
		assert.ErrorIs(t, err, ErrBadLink, link)
	}
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(`{"conversation_id":"c1","message_id":"m9","sender_name":"Bob","body":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, n.Type)
	route, err := n.Route()
	require.NoError(t, err)
	assert.Equal(t, chat.Route{ConversationID: "c1"}, route)

	n, err = ParseNotification([]byte(`{"type":"conversation","link":"handychat://conversation/new?recipient=h1"}`))
	require.NoError(t, err)
	route, err = n.Route()
	require.NoError(t, err)
	assert.True(t, route.IsNew())
	assert.Equal(t, "h1", route.RecipientID)

	_, err = ParseNotification([]byte(`{"type":"message"}`))
	assert.Error(t, err)
	_, err = ParseNotification([]byte(`not json`))
	assert.Error(t, err)
}

func TestDispatchPublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindPushNotification, 1)
	defer unsub()

	Dispatch(b, Notification{Type: TypeMessage, ConversationID: "c1"})
	evt := <-ch
	assert.Equal(t, "c1", evt.Payload.(Notification).ConversationID)
}

type memKV struct {
	mu sync.Mutex
	m  map[string]string
}

func (k *memKV) Get(_ context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (k *memKV) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = value
	return nil
}

func (k *memKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func TestRegistrarReplacesToken(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	kv := &memKV{m: map[string]string{}}
	r := NewRegistrar(api.New(api.Options{BaseURL: srv.URL}, nil), kv, nil)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "tok-1", "ios"))
	require.NoError(t, r.Register(ctx, "tok-1", "ios"))
	assert.Equal(t, 1, srv.Calls(apitest.RouteRegisterDevice))

	require.NoError(t, r.Register(ctx, "tok-2", "ios"))
	assert.Equal(t, map[string]string{"tok-2": "ios"}, srv.Devices())
	cur, err := r.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", cur)

	r.TeardownHook(ctx)
	assert.Empty(t, srv.Devices())
	cur, err = r.Current(ctx)
	require.NoError(t, err)
	assert.Empty(t, cur)

	// Nothing registered: a no-op.
	require.NoError(t, r.Unregister(ctx))
}

func TestQR(t *testing.T) {
	out, err := QR(BuildLink(chat.Route{ConversationID: "c1"}))
	require.NoError(t, err)
	assert.Greater(t, strings.Count(out, "\n"), 10)
}
