package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentifier is reported for an item that has neither an id nor a link.
	ErrNoIdentifier = errors.New("item has neither id nor link")
	// ErrSyncInProgress is returned by StartSync while a full batch is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrAlreadyScheduled is returned by RefreshFeed when the feed is already pending.
	ErrAlreadyScheduled = errors.New("feed refresh already scheduled")
	ErrUnknownFeed      = errors.New("feed is not configured")
	ErrClosed           = errors.New("manager closed")
)

// TransportError is a failed retrieval: a network error, a timeout or a
// status other than 2xx/304.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: HTTP error: %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is a document that could not be interpreted as a feed.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
