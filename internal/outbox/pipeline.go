// Package outbox is the optimistic send pipeline: a message shows up in the
// cache as pending the moment it is sent, its attachments upload in
// parallel, and the confirmed server message replaces it in place.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/bus"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/matheus3301/handychat/internal/status"
	"github.com/matheus3301/handychat/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownMessage is returned by Retry for a client ID the pipeline does
// not hold.
var ErrUnknownMessage = errors.New("unknown message")

// ErrNotFailed is returned by Retry while the message is still in flight.
var ErrNotFailed = errors.New("message has not failed")

// API is the subset of the REST client used to deliver messages.
type API interface {
	UploadAttachment(ctx context.Context, path, mimeType string) (string, error)
	SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (*model.Message, error)
}

// MessageStore receives optimistic and confirmed messages.
type MessageStore interface {
	UpsertMessage(msg model.Message)
}

// Options configures a Pipeline.
type Options struct {
	UploadConcurrency int
	// SelfID returns the sender ID stamped on optimistic messages.
	SelfID func() string
	Clock  clockwork.Clock
	Bus    *bus.Bus
	Logger *zap.Logger
}

type job struct {
	mu       sync.Mutex
	msg      model.Message
	machine  *status.Machine
	handle   *Handle
	inFlight bool
	gen      *generation
}

// generation groups the sends of one login session so Reset can cancel and
// wait for exactly those.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Pipeline sends messages. Sends run on the pipeline's own context, so
// leaving a screen never cancels them; only Reset and Stop do.
type Pipeline struct {
	api    API
	store  MessageStore
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger

	mu   sync.Mutex
	seq  uint64
	jobs map[string]*job
	gen  *generation

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a send pipeline.
func New(client API, store MessageStore, opts Options) *Pipeline {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 3
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SelfID == nil {
		opts.SelfID = func() string { return "" }
	}
	p := &Pipeline{
		api:    client,
		store:  store,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		jobs:   make(map[string]*job),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.gen = p.newGeneration()
	return p
}

func (p *Pipeline) newGeneration() *generation {
	g := &generation{}
	g.ctx, g.cancel = context.WithCancel(p.ctx)
	return g
}

// Start ties the pipeline to a parent lifetime: when ctx ends, in-flight
// sends are cancelled as by Stop.
func (p *Pipeline) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			p.cancel()
		case <-p.ctx.Done():
		}
	}()
}

// Stop cancels in-flight sends and waits for them to settle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.cancel()
	g := p.gen
	p.mu.Unlock()
	g.wg.Wait()
}

// Reset cancels in-flight sends, waits for them to settle and forgets every
// message, failed ones included. Used on logout.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	old := p.gen
	p.gen = p.newGeneration()
	dropped := len(p.jobs)
	p.jobs = make(map[string]*job)
	p.mu.Unlock()

	old.cancel()
	old.wg.Wait()
	p.logger.Info("outbox reset", zap.Int("dropped", dropped))
}

// Send inserts an optimistic pending message into the store and delivers it
// in the background. The returned Handle reports progress. ctx only carries
// the trace parent; cancelling it does not stop the send.
func (p *Pipeline) Send(ctx context.Context, conversationID, body string, attachments []model.Attachment) (*Handle, error) {
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return nil, apperr.ValidationError(-1, "message is empty")
	}
	if conversationID == "" || conversationID == model.NewConversationToken {
		return nil, fmt.Errorf("send: conversation id required")
	}
	clientID := model.TempIDPrefix + uuid.NewString()
	p.mu.Lock()
	if err := p.ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("send: pipeline stopped: %w", err)
	}
	p.seq++
	msg := model.Message{
		ID:             clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       p.opts.SelfID(),
		Body:           body,
		Attachments:    append([]model.Attachment(nil), attachments...),
		CreatedAt:      p.clock.Now(),
		Status:         model.StatusPending,
		LocalSeq:       p.seq,
	}
	j := &job{
		msg:      msg,
		machine:  status.NewMachine(clientID, conversationID, p.opts.Bus),
		handle:   newHandle(clientID),
		inFlight: true,
		gen:      p.gen,
	}
	p.jobs[clientID] = j
	j.gen.wg.Add(1)
	p.mu.Unlock()

	if err := j.machine.Transition(status.Pending); err != nil {
		j.gen.wg.Done()
		return nil, err
	}
	p.store.UpsertMessage(msg)
	j.handle.push(Update{ClientID: clientID, State: status.Pending, Message: msg})

	p.logger.Debug("message queued",
		zap.String("client_id", clientID),
		zap.String("conversation_id", conversationID),
		zap.Uint64("local_seq", msg.LocalSeq),
		zap.Int("attachments", len(attachments)))

	p.run(ctx, j, j.handle)
	return j.handle, nil
}

// Retry resends a failed message. Attachments uploaded by an earlier attempt
// are not uploaded again. Only one attempt runs at a time: a Retry while
// another attempt is in flight returns ErrNotFailed.
func (p *Pipeline) Retry(ctx context.Context, clientID string) (*Handle, error) {
	p.mu.Lock()
	if err := p.ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("retry %s: pipeline stopped: %w", clientID, err)
	}
	j, ok := p.jobs[clientID]
	if ok {
		j.gen.wg.Add(1)
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("retry %s: %w", clientID, ErrUnknownMessage)
	}

	h := newHandle(clientID)
	j.mu.Lock()
	if j.inFlight || j.machine.Current() != status.Failed {
		j.mu.Unlock()
		j.gen.wg.Done()
		return nil, fmt.Errorf("retry %s: %w", clientID, ErrNotFailed)
	}
	j.inFlight = true
	j.handle = h
	j.msg.Status = model.StatusPending
	j.msg.Error = ""
	msg := j.msg
	j.mu.Unlock()

	p.store.UpsertMessage(msg)
	p.logger.Info("retrying message", zap.String("client_id", clientID))
	p.run(ctx, j, h)
	return h, nil
}

// Handle returns the handle of the latest attempt for a message still held
// by the pipeline (in flight or failed).
func (p *Pipeline) Handle(clientID string) (*Handle, bool) {
	p.mu.Lock()
	j, ok := p.jobs[clientID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.handle, true
}

// Failed returns the client IDs of messages waiting for a retry.
func (p *Pipeline) Failed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, j := range p.jobs {
		if j.machine.Current() == status.Failed {
			out = append(out, id)
		}
	}
	return out
}

// run delivers j in the background. The caller has already added the
// attempt to j.gen.wg.
func (p *Pipeline) run(parent context.Context, j *job, h *Handle) {
	// Detach from the caller's cancellation but keep its span as parent.
	ctx := trace.ContextWithSpanContext(j.gen.ctx, trace.SpanContextFromContext(parent))
	go func() {
		defer j.gen.wg.Done()
		p.deliver(ctx, j, h)
	}()
}

func (p *Pipeline) deliver(ctx context.Context, j *job, h *Handle) {
	j.mu.Lock()
	clientID, conversationID := j.msg.ClientID, j.msg.ConversationID
	j.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "outbox.send",
		attribute.String("client_id", clientID),
		attribute.String("conversation_id", conversationID))

	err := p.uploadAll(ctx, j, h)
	if err == nil {
		err = p.submit(ctx, j, h)
	}
	if err != nil {
		p.fail(j, h, err)
	}
	tracing.End(span, err)
}

// uploadAll uploads every attachment without a remote URL, at most
// UploadConcurrency at a time. Every upload runs to completion so URLs
// obtained before a failure are kept for the retry.
func (p *Pipeline) uploadAll(ctx context.Context, j *job, h *Handle) error {
	j.mu.Lock()
	var pending []int
	for i, a := range j.msg.Attachments {
		if !a.Uploaded() {
			pending = append(pending, i)
		}
	}
	j.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	if err := p.transition(j, h, status.Uploading); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(p.opts.UploadConcurrency)
	for _, idx := range pending {
		idx := idx
		g.Go(func() error {
			j.mu.Lock()
			att := j.msg.Attachments[idx]
			j.mu.Unlock()

			uctx, span := tracing.StartSpan(ctx, "outbox.upload",
				attribute.Int("index", idx),
				attribute.String("mime_type", att.MIMEType),
				attribute.Int64("size", att.Size))
			url, err := p.api.UploadAttachment(uctx, att.Path, att.MIMEType)
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = apperr.UploadError(idx, err)
				}
				tracing.End(span, err)
				return err
			}
			tracing.End(span, nil)

			j.mu.Lock()
			j.msg.Attachments[idx].RemoteURL = url
			j.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) submit(ctx context.Context, j *job, h *Handle) error {
	if err := p.transition(j, h, status.Submitting); err != nil {
		return err
	}

	j.mu.Lock()
	req := api.SendMessageRequest{
		ClientID:    j.msg.ClientID,
		Body:        j.msg.Body,
		Attachments: append([]model.Attachment(nil), j.msg.Attachments...),
	}
	conversationID := j.msg.ConversationID
	j.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "outbox.submit")
	confirmed, err := p.api.SendMessage(ctx, conversationID, req)
	tracing.End(span, err)
	if err != nil {
		return err
	}

	confirmed.ClientID = req.ClientID
	confirmed.Status = model.StatusSent
	if err := j.machine.Transition(status.Sent); err != nil {
		return err
	}
	j.mu.Lock()
	confirmed.LocalSeq = j.msg.LocalSeq
	j.msg = *confirmed
	j.inFlight = false
	j.mu.Unlock()

	p.store.UpsertMessage(*confirmed)
	p.mu.Lock()
	delete(p.jobs, req.ClientID)
	p.mu.Unlock()

	p.logger.Info("message sent",
		zap.String("client_id", req.ClientID),
		zap.String("message_id", confirmed.ID))
	h.push(Update{ClientID: req.ClientID, State: status.Sent, Message: *confirmed})
	return nil
}

func (p *Pipeline) transition(j *job, h *Handle, to status.State) error {
	if err := j.machine.Transition(to); err != nil {
		return err
	}
	j.mu.Lock()
	msg := j.msg
	j.mu.Unlock()
	h.push(Update{ClientID: msg.ClientID, State: to, Message: msg})
	return nil
}

func (p *Pipeline) fail(j *job, h *Handle, err error) {
	if mErr := j.machine.Fail(err); mErr != nil {
		p.logger.Error("cannot mark message failed", zap.Error(mErr))
	}
	j.mu.Lock()
	j.msg.Status = model.StatusFailed
	j.msg.Error = apperr.UserMessage(err)
	msg := j.msg
	j.mu.Unlock()

	p.store.UpsertMessage(msg)
	// Retry is accepted only once the failed state is in the store, so its
	// pending upsert cannot be overwritten by this one.
	j.mu.Lock()
	j.inFlight = false
	j.mu.Unlock()
	p.logger.Warn("message failed",
		zap.String("client_id", msg.ClientID),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err))
	h.push(Update{ClientID: msg.ClientID, State: status.Failed, Message: msg, Err: err})
}
