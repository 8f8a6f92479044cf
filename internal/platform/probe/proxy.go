package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProxyFetcher routes fetches through a rendering proxy that takes the
// target in its url query parameter and answers with the rendered
// document. It backs the direct client when storefronts reset connections
// or need script execution to produce markup.
type ProxyFetcher struct {
	endpoint string
	http     *http.Client
	maxBody  int64
}

var _ Fetcher = (*ProxyFetcher)(nil)

// NewProxyFetcher builds a fallback fetcher against the proxy endpoint.
func NewProxyFetcher(endpoint string, timeout time.Duration) *ProxyFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ProxyFetcher{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		maxBody:  defaultMaxBody,
	}
}

func (p *ProxyFetcher) Fetch(ctx context.Context, target string) (*Response, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", target)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read proxy body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
