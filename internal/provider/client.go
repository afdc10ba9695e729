package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRequestTimeout = 60 * time.Second
	DefaultMinBackoff     = 1 * time.Second
	DefaultMaxBackoff     = 8 * time.Second
)

// Options configures NewClient. Zero values select the defaults above.
type Options struct {
	MaxAttempts    int
	RequestTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration

	// RequestsPerMinute enables a client-side rate limit when > 0.
	RequestsPerMinute int

	Logger *slog.Logger

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client sends completion requests through a Backend with bounded retries.
type Client struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewClient(b Backend, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{backend: b, opts: opts, log: log}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

func (c *Client) Backend() Backend { return c.backend }

// Complete sends req, retrying transient failures, and parses the answer.
// Any failure is an *UnavailableError matching ErrLLMUnavailable; a
// cancelled ctx is returned as is.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, err
			}
		}

		start := time.Now()
		raw, err := c.attempt(ctx, req)
		if err == nil {
			resp := parseResponse(raw)
			resp.Attempts = attempt
			c.log.Debug("llm call",
				"backend", c.backend.Name(),
				"model", c.backend.Model(),
				"attempt", attempt,
				"duration", time.Since(start),
				"tool_call", resp.ToolCall != nil,
				"finish_reason", resp.FinishReason)
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		lastErr = err

		retry, httpResp := c.classify(ctx, err)
		if !retry {
			c.log.Warn("llm call failed", "backend", c.backend.Name(), "attempt", attempt, "err", err)
			return Response{}, &UnavailableError{Backend: c.backend.Name(), Attempts: attempt, Err: err}
		}
		if attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.backoff(attempt, httpResp)
		c.log.Warn("llm call failed, retrying",
			"backend", c.backend.Name(),
			"attempt", attempt,
			"max_attempts", c.opts.MaxAttempts,
			"wait", wait,
			"err", err)
		if err := c.opts.Sleep(ctx, wait); err != nil {
			return Response{}, err
		}
	}
	return Response{}, &UnavailableError{Backend: c.backend.Name(), Attempts: c.opts.MaxAttempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.backend.Complete(ctx, req)
}

// classify reports whether err is transient. The returned response carries
// the status and headers that the backoff may honour.
func (c *Client) classify(ctx context.Context, err error) (bool, *http.Response) {
	var he *HTTPError
	if errors.As(err, &he) {
		resp := &http.Response{
			StatusCode: he.StatusCode,
			Status:     fmt.Sprintf("%d %s", he.StatusCode, http.StatusText(he.StatusCode)),
			Header:     he.Header,
		}
		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, nil)
		return retry, resp
	}
	// The per-attempt deadline fired while the caller's context is alive.
	if errors.Is(err, context.DeadlineExceeded) {
		return true, nil
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, nil, ue)
		return retry, nil
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true, nil
	}
	return false, nil
}

// backoff is retryablehttp's exponential backoff (honouring Retry-After)
// plus up to 25% random jitter.
func (c *Client) backoff(attempt int, resp *http.Response) time.Duration {
	d := retryablehttp.DefaultBackoff(c.opts.MinBackoff, c.opts.MaxBackoff, attempt-1, resp)
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
