// Package httpx is the synchronous request engine shared by every provider
// adapter: per-call deadlines, classified retries with exponential backoff,
// and raw byte or byte-stream responses. It never decodes response bodies.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/platform/logger"
	"github.com/capra-ai/capra/internal/sigv4"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// DefaultMaxRetries is the number of attempts beyond the first.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds a single capability call.
	DefaultTimeout = 30 * time.Second
)

// Response is the raw result of a performed envelope. Exactly one of Body
// or Stream is populated.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	Stream  io.ReadCloser
}

// Client executes envelopes. It is safe to reuse across calls; it holds no
// per-call state.
type Client struct {
	http    *http.Client
	retries int
	limiter *rate.Limiter
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each capability call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets the number of retry attempts beyond the first.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithRateLimit applies a client-side throttle ahead of every attempt.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTransport replaces the underlying round tripper (tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// WithSleep replaces the backoff sleeper (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces the signing clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client with the default timeout and retry budget.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		retries: DefaultMaxRetries,
		tracer:  otel.Tracer("capra/httpx"),
		sleep:   sleepCtx,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Perform executes the envelope and materializes the body.
func (c *Client) Perform(ctx context.Context, env Envelope) (*Response, error) {
	return c.run(ctx, env, false)
}

// PerformStreaming executes the envelope and returns the body as a byte
// stream. Retries apply only up to the point the response is established;
// the caller owns closing the stream.
func (c *Client) PerformStreaming(ctx context.Context, env Envelope) (*Response, error) {
	return c.run(ctx, env, true)
}

func (c *Client) run(ctx context.Context, env Envelope, streaming bool) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "httpx.perform",
		trace.WithAttributes(
			attribute.String("http.method", env.Method),
			attribute.String("http.url", env.URL),
			attribute.Bool("streaming", streaming),
		))
	defer span.End()

	var lastErr *fault.Fault
	delay := initialBackoff
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fault.Timeout("deadline expired while throttled")
			}
		}

		resp, ferr := c.attempt(ctx, env, streaming)
		if ferr == nil {
			return resp, nil
		}

		// On repeated transient failure the final error is the last
		// observed; a classified rate limit wins over a bare network
		// error seen in the same retry window.
		if lastErr == nil || ferr.Kind != fault.KindTransport || lastErr.Kind == fault.KindTransport {
			lastErr = ferr
		}
		if !ferr.Retryable() || attempt >= c.retries {
			return nil, lastErr
		}

		wait := delay
		if ferr.Kind == fault.KindRateLimited && ferr.RetryAfter > 0 {
			wait = time.Duration(ferr.RetryAfter) * time.Second
		}
		logger.Debug("httpx: retrying after transient failure",
			zap.Int("attempt", attempt+1),
			zap.String("kind", ferr.Kind.String()),
			zap.Duration("backoff", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, fault.Timeout("deadline expired during retry backoff")
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func (c *Client) attempt(ctx context.Context, env Envelope, streaming bool) (*Response, *fault.Fault) {
	req, ferr := c.build(ctx, env)
	if ferr != nil {
		return nil, ferr
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fault.Wrap(fault.KindTimeout, err, "request timed out")
		}
		return nil, fault.Transport(err, "request failed")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if streaming {
			return &Response{Status: resp.StatusCode, Headers: resp.Header, Stream: resp.Body}, nil
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			if isTimeout(ctx, err) {
				return nil, fault.Wrap(fault.KindTimeout, err, "response read timed out")
			}
			return nil, fault.Transport(err, "failed to read response body")
		}
		return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	return nil, fault.FromStatus(resp.StatusCode, body, resp.Header)
}

func (c *Client) build(ctx context.Context, env Envelope) (*http.Request, *fault.Fault) {
	var bodyReader io.Reader
	if env.Body != nil {
		bodyReader = bytes.NewReader(env.Body)
	}
	req, err := http.NewRequestWithContext(ctx, env.Method, env.URL, bodyReader)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidRequest, err, "failed to create request")
	}
	for _, h := range env.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	switch env.Auth.Policy {
	case AuthHeader:
		req.Header.Set(env.Auth.HeaderName, env.Auth.HeaderValue)
	case AuthSigV4:
		if ferr := c.signRequest(req, env); ferr != nil {
			return nil, ferr
		}
	}
	return req, nil
}

func (c *Client) signRequest(req *http.Request, env Envelope) *fault.Fault {
	u, err := url.Parse(env.URL)
	if err != nil {
		return fault.Wrap(fault.KindInvalidRequest, err, "unparseable URL for signing")
	}
	payloadHash := sigv4.PayloadHash(env.Body)
	signHeaders := map[string]string{"x-amz-content-sha256": payloadHash}
	for _, h := range env.Headers {
		signHeaders[h.Name] = h.Value
	}
	signed := sigv4.Sign(sigv4.Request{
		Method:  env.Method,
		Host:    u.Host,
		Path:    u.Path,
		Query:   u.Query(),
		Headers: signHeaders,
		Payload: env.Body,
		Region:  env.Auth.Region,
		Service: env.Auth.Service,
		Time:    c.now(),
	}, env.Auth.Credentials)

	req.Header.Set("Authorization", signed.Authorization)
	req.Header.Set("X-Amz-Date", signed.AmzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if signed.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", signed.SessionToken)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
