// Package api is the client for the marketplace REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/model"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	GetRetries uint64
	UserAgent  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	getRetries uint64
	retryBase  time.Duration
	http       *http.Client
	tokens     TokenSource
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates an API client. tokens may be nil for unauthenticated use.
func New(opts Options, tokens TokenSource) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "handychat"
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  ua,
		getRetries: opts.GetRetries,
		retryBase:  200 * time.Millisecond,
		http:       httpClient,
		tokens:     tokens,
		logger:     logger,
		tracer:     otel.Tracer("github.com/matheus3301/handychat/internal/api"),
	}
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Pagination *model.Pagination `json:"pagination,omitempty"`
	} `json:"meta"`
	Error   *errorBody `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type request struct {
	method      string
	route       string // templated path used as span name
	path        string
	body        io.Reader
	contentType string
}

// get performs an idempotent GET, retrying network and 5xx failures.
func (c *Client) get(ctx context.Context, route, path string) (*envelope, error) {
	req := request{method: http.MethodGet, route: route, path: path}
	if c.getRetries == 0 {
		return c.do(ctx, req)
	}

	var env *envelope
	backoff := retry.WithMaxRetries(c.getRetries, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		env, err = c.do(ctx, req)
		if apperr.IsRetryable(err) {
			c.logger.Debug("retrying request", zap.String("route", route), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	return env, err
}

// sendJSON performs a non-idempotent request with a JSON body. Not retried.
func (c *Client) sendJSON(ctx context.Context, method, route, path string, in any) (*envelope, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", route, err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, request{method: method, route: route, path: path, body: body, contentType: "application/json"})
}

func (c *Client) do(ctx context.Context, r request) (*envelope, error) {
	ctx, span := c.tracer.Start(ctx, r.method+" "+r.route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.route", r.route),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.NetworkError(r.method+" "+r.route, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		span.RecordError(err)
		return nil, apperr.NetworkError("read response", err)
	}

	c.logger.Debug("api call",
		zap.String("method", r.method),
		zap.String("route", r.route),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil && resp.StatusCode < 300 {
			span.RecordError(jsonErr)
			return nil, apperr.ServerError(resp.StatusCode, "malformed response: "+jsonErr.Error())
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		span.SetStatus(codes.Error, msg)
		return nil, apperr.ServerError(resp.StatusCode, msg)
	}
	return &env, nil
}

// decode unmarshals the envelope's data into out.
func decode(env *envelope, out any) error {
	if env == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return errors.New("empty response data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.ServerError(http.StatusOK, "malformed data: "+err.Error())
	}
	return nil
}

func pagination(env *envelope, page int) model.Pagination {
	if env.Meta.Pagination != nil {
		return *env.Meta.Pagination
	}
	return model.Pagination{Page: page}
}
