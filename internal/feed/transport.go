package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "feedsync/1.0 (feed aggregator; github.com/pders01/feedsync)"
	defaultTimeout   = 30 * time.Second
	maxBodySize      = 10 << 20

	acceptFeed = "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml"
	acceptAny  = "*/*"
)

// Request is a single GET. Empty validator fields are not sent.
type Request struct {
	URL             string
	Accept          string
	IfNoneMatch     string
	IfModifiedSince string
	// IgnoreCache suppresses the conditional headers and asks caches to revalidate.
	IgnoreCache bool
}

// Response carries what the engine needs from an HTTP response.
type Response struct {
	Status       int
	Body         []byte
	ETag         string
	LastModified string
}

// Transport performs HTTP GETs. A non-nil error means no response was received.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport is the net/http Transport. Requests to the same host are
// spaced by the configured interval.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
	interval  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type TransportOptions struct {
	Timeout      time.Duration
	UserAgent    string
	HostInterval time.Duration
	Client       *http.Client
}

func NewHTTPTransport(opts TransportOptions) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPTransport{
		client:    client,
		userAgent: opts.UserAgent,
		interval:  opts.HostInterval,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if err := t.wait(ctx, req.URL); err != nil {
		return nil, fmt.Errorf("waiting for host slot: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	accept := r.Accept
	if accept == "" {
		accept = acceptAny
	}
	req.Header.Set("Accept", accept)

	if r.IgnoreCache {
		req.Header.Set("Cache-Control", "no-cache")
	} else {
		if r.IfNoneMatch != "" {
			req.Header.Set("If-None-Match", r.IfNoneMatch)
		}
		if r.IfModifiedSince != "" {
			req.Header.Set("If-Modified-Since", r.IfModifiedSince)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, errors.New("response body too large")
	}

	return &Response{
		Status:       resp.StatusCode,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func (t *HTTPTransport) wait(ctx context.Context, u *url.URL) error {
	if t.interval <= 0 || u.Host == "" {
		return nil
	}
	t.mu.Lock()
	limiter, ok := t.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[u.Host] = limiter
	}
	t.mu.Unlock()
	return limiter.Wait(ctx)
}
