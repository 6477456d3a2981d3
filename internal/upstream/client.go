// Package upstream talks to the Joplin data API. Every request goes
// through the same pipeline: breaker check, rate-limit token, HTTP
// exchange with a per-attempt timeout, retry on transient failure, all
// under one overall deadline.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/breaker"
	"github.com/starford/notebridge/internal/metrics"
	"github.com/starford/notebridge/internal/ratelimit"
	"github.com/starford/notebridge/internal/retry"
)

const maxResponseBytes = 16 << 20

// Config holds the connection settings.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// CallDeadline bounds a logical call including every wait and retry.
	CallDeadline time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base     *url.URL
	cfg      Config
	http     *http.Client
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	policy   retry.Policy
	metrics  *metrics.Collector
	logger   *slog.Logger
	tokenMu  sync.RWMutex
	tokenVal string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Collector) Option { return func(c *Client) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New builds a client. limiter, br and policy are shared by every call
// made through it.
func New(cfg Config, limiter *ratelimit.Limiter, br *breaker.Breaker, policy retry.Policy, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	c := &Client{
		base:     base,
		cfg:      cfg,
		http:     &http.Client{},
		limiter:  limiter,
		breaker:  br,
		policy:   policy,
		logger:   slog.Default(),
		tokenVal: cfg.Token,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SetToken replaces the API token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.tokenVal = token
	c.tokenMu.Unlock()
}

func (c *Client) token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.tokenVal
}

// Breaker exposes the client's breaker for status reporting.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Limiter exposes the client's rate limiter for status reporting.
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

// Request describes one logical call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// Endpoint labels the call in logs and metrics.
	Endpoint string
}

// Response is a successful (2xx) upstream response.
type Response struct {
	Status int
	Body   []byte
}

// Execute performs req. The returned error is always an *apperr.Failure.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if c.cfg.CallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallDeadline)
		defer cancel()
	}

	resp, err := c.execute(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	c.metrics.UpstreamCall(req.Endpoint, outcome, time.Since(start))
	if err != nil {
		return nil, apperr.From(err)
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, apperr.Wrap(apperr.Unavailable, ctx.Err(), "upstream request cancelled")
	}
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	attempt := 0
	var lastTransient error
	res, err := c.breaker.Execute(func() (any, error) {
		return retry.Do(ctx, c.policy, func(ctx context.Context) (*Response, error) {
			if attempt > 0 {
				if err := c.limiter.Acquire(ctx); err != nil {
					f := *apperr.From(err)
					f.Err = lastTransient
					return nil, &f
				}
			}
			attempt++
			resp, err := c.roundTrip(ctx, req)
			if retry.Retryable(err) {
				lastTransient = err
			}
			return resp, err
		}, func(err error, wait time.Duration) {
			c.logger.Warn("upstream attempt failed, retrying",
				slog.String("endpoint", req.Endpoint),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		})
	})
	if err != nil {
		return nil, err
	}
	return res.(*Response), nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	c.metrics.UpstreamAttempt(req.Endpoint)

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + req.Path

	q := url.Values{}
	for k, vs := range req.Query {
		q[k] = vs
	}
	if tok := c.token(); tok != "" {
		q.Set("token", tok)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "encode request body")
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// classifyTransport maps a failed exchange to Unavailable. The request
// URL carries the token, so only the underlying cause is kept.
func classifyTransport(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperr.Wrap(apperr.Unavailable, err, "upstream timed out")
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.Unavailable, err, "upstream request cancelled")
	default:
		return apperr.Wrap(apperr.Unavailable, err, "upstream unreachable")
	}
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := upstreamMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Errorf(apperr.Auth, "upstream rejected credentials (%d)", status)
	case status == http.StatusNotFound:
		return apperr.Errorf(apperr.NotFound, "upstream resource not found%s", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.Errorf(apperr.Unavailable, "upstream returned %d%s", status, msg)
	default:
		return apperr.Errorf(apperr.Validation, "upstream rejected request (%d)%s", status, msg)
	}
}

// upstreamMessage extracts Joplin's {"error": "..."} text.
func upstreamMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == "" {
		return ""
	}
	msg := e.Error
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return ": " + msg
}

// call executes req and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperr.Wrap(apperr.Internal, err, "decode "+req.Endpoint+" response")
	}
	return nil
}
