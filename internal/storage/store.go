package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrFeedNotFound  = errors.New("feed not found")
	ErrEntryNotFound = errors.New("entry not found")
	// ErrReadIsFinal is returned when an entry that was already read is marked unread.
	ErrReadIsFinal = errors.New("entry already read")
)

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Store is the persistence contract used by the sync engine and by readers.
//
// Every write re-derives the feed's unread count from its entries, so the
// Unread value passed in a FeedRecord is never trusted. Merge applies a feed
// record and its new entries in one transaction; readers never observe half of
// a merge. Flush is the durability barrier: writes between flushes may be lost
// on a crash.
type Store interface {
	GetFeed(ctx context.Context, feedURL string) (*FeedRecord, error)
	PutFeed(ctx context.Context, rec *FeedRecord) error
	GetEntries(ctx context.Context, feedURL string) ([]*Entry, error)
	GetEntry(ctx context.Context, feedURL, guid string) (*Entry, error)
	// PutEntry inserts e unless an entry with the same guid is already stored.
	PutEntry(ctx context.Context, feedURL string, e *Entry) error
	// SetUnread reports whether the entry's state changed. Read is final, so
	// unread=true on a read entry fails with ErrReadIsFinal.
	SetUnread(ctx context.Context, feedURL, guid string, unread bool) (bool, error)
	// MarkFeedRead marks every entry of the feed read and returns how many changed.
	MarkFeedRead(ctx context.Context, feedURL string) (int, error)
	// Merge writes rec and inserts the entries that are not stored yet. rec.Unread
	// is updated to the re-derived count.
	Merge(ctx context.Context, rec *FeedRecord, entries []*Entry) error
	Flush(ctx context.Context) error
	Close() error
}

// Error is a failure of the backing store. It is the only error class the
// sync engine escalates.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFeedNotFound) || errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrReadIsFinal) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Open opens the backing selected by backend at path, creating the parent
// directory if needed.
func Open(backend, path string, timeout time.Duration) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	switch backend {
	case "", BackendBolt:
		return NewBoltStore(path, timeout)
	case BackendSQLite:
		return NewSQLiteStore(context.Background(), path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
