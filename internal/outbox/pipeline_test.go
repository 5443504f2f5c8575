package outbox

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/api/apitest"
	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/cache"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *apitest.Server
	cache    *cache.Cache
	pipeline *Pipeline
	bus      *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddConversation(model.Conversation{ID: "c1"})

	client := api.New(api.Options{BaseURL: srv.URL}, nil)
	b := bus.New()
	c := cache.New(client, cache.Options{Bus: b})
	t.Cleanup(c.Stop)
	p := New(client, c, Options{Bus: b, SelfID: func() string { return "me" }})
	t.Cleanup(p.Stop)
	return &fixture{srv: srv, cache: c, pipeline: p, bus: b}
}

func wait(t *testing.T, h *Handle) (model.Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return msg, err
}

func localFile(t *testing.T, name, content string) model.Attachment {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return model.Attachment{Path: path, MIMEType: "image/jpeg", Size: int64(len(content))}
}

func TestSendInsertsOptimisticallyBeforeReturning(t *testing.T) {
	f := newFixture(t)
	release := f.srv.Block(apitest.RouteSendMessage)

	h, err := f.pipeline.Send(context.Background(), "c1", "be there at 3", nil)
	require.NoError(t, err)

	msgs := f.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, h.ClientID(), msgs[0].ID)
	assert.True(t, msgs[0].IsTemporary())
	assert.Equal(t, model.StatusPending, msgs[0].Status)
	assert.Equal(t, "me", msgs[0].SenderID)

	release()
	sent, err := wait(t, h)
	require.NoError(t, err)

	msgs = f.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.False(t, msgs[0].IsTemporary())
	assert.Equal(t, h.ClientID(), msgs[0].ClientID)
	assert.Equal(t, model.StatusSent, msgs[0].Status)
}

func TestSendStatesAreObservable(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(bus.KindSendState, 16)
	defer unsub()

	h, err := f.pipeline.Send(context.Background(), "c1", "", []model.Attachment{localFile(t, "a.jpg", "aaa")})
	require.NoError(t, err)
	_, err = wait(t, h)
	require.NoError(t, err)

	var states []status.State
	for u := range h.Updates() {
		states = append(states, u.State)
	}
	assert.Equal(t, []status.State{status.Pending, status.Uploading, status.Submitting, status.Sent}, states)

	var fromBus []status.State
	for len(fromBus) < 4 {
		select {
		case evt := <-events:
			fromBus = append(fromBus, evt.Payload.(status.Change).To)
		case <-time.After(time.Second):
			t.Fatalf("missing bus events, got %v", fromBus)
		}
	}
	assert.Equal(t, states, fromBus)
}

func TestResponsesOutOfOrderKeepSendOrder(t *testing.T) {
	f := newFixture(t)
	releaseA := make(chan struct{})
	f.srv.OnSend(func(_ string, req api.SendMessageRequest) {
		if req.Body == "A" {
			<-releaseA
		}
	})

	hA, err := f.pipeline.Send(context.Background(), "c1", "A", nil)
	require.NoError(t, err)
	hB, err := f.pipeline.Send(context.Background(), "c1", "B", nil)
	require.NoError(t, err)

	_, err = wait(t, hB)
	require.NoError(t, err)
	msgs := f.cache.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"A", "B"}, []string{msgs[0].Body, msgs[1].Body})
	assert.True(t, msgs[0].IsTemporary())

	close(releaseA)
	_, err = wait(t, hA)
	require.NoError(t, err)

	msgs = f.cache.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"A", "B"}, []string{msgs[0].Body, msgs[1].Body})
	assert.False(t, msgs[0].IsTemporary())
	assert.False(t, msgs[1].IsTemporary())

	// The server saw B first.
	stored := f.srv.Messages("c1")
	assert.Equal(t, "B", stored[0].Body)
}

func TestUploadFailureKeepsMessageForRetry(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(apitest.RouteUpload, http.StatusInternalServerError)

	atts := []model.Attachment{localFile(t, "a.jpg", "aaa"), localFile(t, "b.jpg", "bbb")}
	h, err := f.pipeline.Send(context.Background(), "c1", "see photos", atts)
	require.NoError(t, err)

	_, err = wait(t, h)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Upload))
	assert.Equal(t, 2, f.srv.Calls(apitest.RouteUpload))
	assert.Zero(t, f.srv.Calls(apitest.RouteSendMessage), "no submission before every upload resolved")

	msg, ok := f.cache.Message("c1", h.ClientID())
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.NotEmpty(t, msg.Error)
	assert.Equal(t, []string{h.ClientID()}, f.pipeline.Failed())

	h2, err := f.pipeline.Retry(context.Background(), h.ClientID())
	require.NoError(t, err)
	sent, err := wait(t, h2)
	require.NoError(t, err)

	assert.Equal(t, 3, f.srv.Calls(apitest.RouteUpload), "only the failed attachment is uploaded again")
	require.Len(t, sent.Attachments, 2)
	for _, a := range sent.Attachments {
		assert.True(t, a.Uploaded())
	}
	msgs := f.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusSent, msgs[0].Status)
	assert.Empty(t, f.pipeline.Failed())
}

func TestSubmitFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(apitest.RouteSendMessage, http.StatusServiceUnavailable)

	h, err := f.pipeline.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.True(t, apperr.Is(err, apperr.Server))

	_, err = f.pipeline.Retry(context.Background(), "local-unknown")
	assert.ErrorIs(t, err, ErrUnknownMessage)

	h2, err := f.pipeline.Retry(context.Background(), h.ClientID())
	require.NoError(t, err)
	var states []status.State
	for u := range h2.Updates() {
		states = append(states, u.State)
	}
	assert.Equal(t, []status.State{status.Submitting, status.Sent}, states)
	assert.Len(t, f.srv.Messages("c1"), 1)
}

func TestRetryWhileInFlight(t *testing.T) {
	f := newFixture(t)
	release := f.srv.Block(apitest.RouteSendMessage)
	defer release()

	h, err := f.pipeline.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	_, err = f.pipeline.Retry(context.Background(), h.ClientID())
	assert.ErrorIs(t, err, ErrNotFailed)

	got, ok := f.pipeline.Handle(h.ClientID())
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestCallerCancellationDoesNotCancelSend(t *testing.T) {
	f := newFixture(t)
	release := f.srv.Block(apitest.RouteSendMessage)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := f.pipeline.Send(ctx, "c1", "leaving the screen", nil)
	require.NoError(t, err)
	cancel()
	release()

	_, err = wait(t, h)
	require.NoError(t, err)
	assert.Len(t, f.srv.Messages("c1"), 1)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Send(context.Background(), "c1", "   ", nil)
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, err = f.pipeline.Send(context.Background(), model.NewConversationToken, "hi", nil)
	assert.Error(t, err)
	assert.Nil(t, f.cache.Messages("c1"))
}

func TestStopFailsInFlightSends(t *testing.T) {
	f := newFixture(t)
	release := f.srv.Block(apitest.RouteSendMessage)
	defer release()

	h, err := f.pipeline.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	f.pipeline.Stop()

	_, err = wait(t, h)
	assert.True(t, errors.Is(err, context.Canceled) || apperr.KindOf(err) != "")

	_, err = f.pipeline.Send(context.Background(), "c1", "after stop", nil)
	assert.Error(t, err)
}

func TestConcurrentRetriesDeliverOnce(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(apitest.RouteSendMessage, http.StatusInternalServerError)

	h, err := f.pipeline.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	_, err = wait(t, h)
	require.Error(t, err)

	release := f.srv.Block(apitest.RouteSendMessage)
	h2, err := f.pipeline.Retry(context.Background(), h.ClientID())
	require.NoError(t, err)
	_, err = f.pipeline.Retry(context.Background(), h.ClientID())
	assert.ErrorIs(t, err, ErrNotFailed)
	release()

	sent, err := wait(t, h2)
	require.NoError(t, err)
	assert.Len(t, f.srv.Messages("c1"), 1)

	msgs := f.cache.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Equal(t, model.StatusSent, msgs[0].Status)
	assert.Empty(t, f.pipeline.Failed())
}

func TestRetryRightAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(apitest.RouteSendMessage, http.StatusInternalServerError)

	h, err := f.pipeline.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)
	<-h.Done()

	h2, err := f.pipeline.Retry(context.Background(), h.ClientID())
	require.NoError(t, err, "a failed handle must be retryable as soon as it is done")
	_, err = wait(t, h2)
	require.NoError(t, err)
}

func TestLocalOrderSurvivesClockStepBack(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddConversation(model.Conversation{ID: "c1"})
	client := api.New(api.Options{BaseURL: srv.URL}, nil)
	c := cache.New(client, cache.Options{})
	t.Cleanup(c.Stop)
	clock := clockwork.NewFakeClock()
	p := New(client, c, Options{Clock: clock, SelfID: func() string { return "me" }})
	t.Cleanup(p.Stop)

	release := srv.Block(apitest.RouteSendMessage)
	defer release()

	a, err := p.Send(context.Background(), "c1", "A", nil)
	require.NoError(t, err)
	clock.Advance(-2 * time.Second)
	b, err := p.Send(context.Background(), "c1", "B", nil)
	require.NoError(t, err)

	msgs := c.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{a.ClientID(), b.ClientID()}, []string{msgs[0].ClientID, msgs[1].ClientID})
}

func TestResetCancelsAndForgetsMessages(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext(apitest.RouteSendMessage, http.StatusInternalServerError)
	failed, err := f.pipeline.Send(context.Background(), "c1", "failed", nil)
	require.NoError(t, err)
	_, err = wait(t, failed)
	require.Error(t, err)

	release := f.srv.Block(apitest.RouteSendMessage)
	inFlight, err := f.pipeline.Send(context.Background(), "c1", "in flight", nil)
	require.NoError(t, err)

	f.pipeline.Reset()
	release()

	select {
	case <-inFlight.Done():
	default:
		t.Fatal("Reset returned before the in-flight send settled")
	}
	assert.Error(t, inFlight.Last().Err)
	assert.Empty(t, f.pipeline.Failed())
	_, ok := f.pipeline.Handle(inFlight.ClientID())
	assert.False(t, ok)
	_, err = f.pipeline.Retry(context.Background(), failed.ClientID())
	assert.ErrorIs(t, err, ErrUnknownMessage)

	// The pipeline keeps working for the next session.
	h, err := f.pipeline.Send(context.Background(), "c1", "next session", nil)
	require.NoError(t, err)
	_, err = wait(t, h)
	require.NoError(t, err)
}
