package feed

import (
	"context"
	"net/http"

	"github.com/pders01/feedsync/internal/storage"
)

// Outcome is the result class of a conditional fetch.
type Outcome int

const (
	// OutcomeContent means the server sent a new document.
	OutcomeContent Outcome = iota
	// OutcomeUnchanged means the server answered 304 Not Modified.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContent:
		return "content"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// FetchResult is a successful fetch. Body and Validators are only set for
// OutcomeContent; either validator may be empty.
type FetchResult struct {
	Outcome    Outcome
	Body       []byte
	Validators storage.Validators
}

// Fetcher performs conditional retrieval of feed documents. It has no
// storage side effects.
type Fetcher struct {
	transport   Transport
	ignoreCache bool
}

func NewFetcher(transport Transport) *Fetcher {
	return &Fetcher{transport: transport}
}

// SetIgnoreCache makes the fetcher omit the stored validators.
func (f *Fetcher) SetIgnoreCache(ignore bool) {
	f.ignoreCache = ignore
}

// Fetch retrieves feedURL, sending prior validators as conditional headers.
// Every failure is a *TransportError.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, prior storage.Validators) (*FetchResult, error) {
	resp, err := f.transport.Do(ctx, Request{
		URL:             feedURL,
		Accept:          acceptFeed,
		IfNoneMatch:     prior.ETag,
		IfModifiedSince: prior.LastModified,
		IgnoreCache:     f.ignoreCache,
	})
	if err != nil {
		return nil, &TransportError{URL: feedURL, Err: err}
	}

	switch {
	case resp.Status == http.StatusNotModified:
		return &FetchResult{Outcome: OutcomeUnchanged}, nil
	case resp.Status < 200 || resp.Status > 299:
		return nil, &TransportError{URL: feedURL, Status: resp.Status}
	}

	return &FetchResult{
		Outcome: OutcomeContent,
		Body:    resp.Body,
		Validators: storage.Validators{
			ETag:         resp.ETag,
			LastModified: resp.LastModified,
		},
	}, nil
}
