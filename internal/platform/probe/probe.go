// Package probe is the HTTP client used by every external check in the
// pipeline. It never surfaces 4xx/5xx as errors: probes need non-throwing
// access to status and body, because a 403 or a 429 is evidence, not a
// failure. A pluggable fallback fetcher (e.g. a rendering proxy) is tried
// when the direct fetch fails at the transport level.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storescout/pkg/platform/circuit"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultMaxBody   = 2 << 20 // 2 MiB is plenty for storefront markup
	defaultUserAgent = "storescout/1.0"
	maxRedirects     = 5
)

// Response is the non-throwing result of a probe. Body is fully read and
// size-capped so callers can scan it repeatedly.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RateLimited reports a 429-class answer.
func (r *Response) RateLimited() bool {
	return r.StatusCode == http.StatusTooManyRequests
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode probe body: %w", err)
	}
	return nil
}

// Document parses the body as HTML for selector-based scanning.
func (r *Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse probe document: %w", err)
	}
	return doc, nil
}

// Fetcher fetches a URL. The production implementation is *Client; a
// rendering-proxy fallback implements the same contract.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Client is the direct HTTP fetcher with bounded redirects and timeout.
type Client struct {
	http      *http.Client
	fallback  Fetcher
	breaker   *circuit.Breaker
	userAgent string
	maxBody   int64
}

var _ Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// WithFallback sets an alternate fetch strategy tried when the direct fetch
// fails at the transport level (refused, reset, timed out).
func WithFallback(fallback Fetcher) Option {
	return func(c *Client) {
		c.fallback = fallback
	}
}

// WithBreaker guards the direct fetch path with a circuit breaker. While
// the breaker is open the fallback fetcher is tried first.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = breaker
	}
}

// WithUserAgent overrides the probe User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient swaps the underlying http.Client (tests use the httptest
// server client here).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New builds a probe client with bounded redirect following.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: defaultUserAgent,
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch issues a GET and returns the response regardless of status code. A
// transport-level failure falls through to the fallback fetcher when one is
// configured; an open breaker flips that order so a struggling direct path
// is not hammered on every probe.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	if c.breaker != nil && c.fallback != nil && c.breaker.IsOpen() {
		if resp, err := c.fallback.Fetch(ctx, url); err == nil {
			return resp, nil
		}
		// The fallback is failing too; probe the direct path so the
		// breaker gets a chance to close again.
		resp, err := c.direct(ctx, url)
		c.record(err == nil)
		return resp, err
	}

	resp, err := c.direct(ctx, url)
	if err != nil {
		c.record(false)
		if c.fallback != nil && ctx.Err() == nil {
			return c.fallback.Fetch(ctx, url)
		}
		return nil, err
	}
	c.record(true)
	return resp, nil
}

func (c *Client) direct(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read probe body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) record(ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		c.breaker.RecordSuccess()
	} else {
		c.breaker.RecordFailure()
	}
}
