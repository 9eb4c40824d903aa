// Package fetcher downloads public account activity feeds.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// MaxBodySize caps the number of bytes read from a feed response.
const MaxBodySize = 5 * 1024 * 1024

// Defaults applied by New for zero Options fields.
const (
	DefaultBaseURL   = "https://github.com"
	DefaultUserAgent = "ghfeed/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Fetcher.
type Options struct {
	BaseURL   string
	UserAgent string
	// RatePerSecond limits outgoing requests. Zero or negative disables limiting.
	RatePerSecond float64
	Burst         int
}

// Fetcher downloads account feeds.
type Fetcher struct {
	client    HTTPClient
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &Fetcher{
		client:    client,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, opts.Burst),
	}
}

// FeedURL returns the feed address for login.
func (f *Fetcher) FeedURL(login string) string {
	return f.baseURL + "/" + url.PathEscape(login) + ".atom"
}

// Fetch downloads the activity feed of login and returns the raw document.
func (f *Fetcher) Fetch(ctx context.Context, login string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.FeedURL(login), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/xml;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
