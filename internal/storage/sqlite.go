package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore keeps feeds in two tables, feeds and entries, unique on (feed)
// and (feed, entry).
type SQLiteStore struct {
	db *sqlx.DB
}

type feedRow struct {
	Feed         string `db:"feed"`
	Title        string `db:"title"`
	Favicon      []byte `db:"favicon"`
	IconResolved bool   `db:"icon_resolved"`
	ETag         string `db:"etag"`
	LastModified string `db:"lastmodified"`
	Unread       int    `db:"unread"`
	LastFetched  int64  `db:"last_fetched"`
}

type entryRow struct {
	Feed       string `db:"feed"`
	Entry      string `db:"entry"`
	Title      string `db:"title"`
	Content    string `db:"content"`
	Link       string `db:"link"`
	Date       int64  `db:"date"`
	Unread     bool   `db:"unread"`
	Categories string `db:"categories"`
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		s.db.Close()
		return err
	}
	return wrapErr("close", s.db.Close())
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)")
	return wrapErr("flush", err)
}

func (s *SQLiteStore) GetFeed(ctx context.Context, feedURL string) (*FeedRecord, error) {
	var row feedRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM feeds WHERE feed = ?", feedURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFeedNotFound
	}
	if err != nil {
		return nil, wrapErr("get feed", err)
	}
	return row.record(), nil
}

func (s *SQLiteStore) PutFeed(ctx context.Context, rec *FeedRecord) error {
	return s.inTx(ctx, "put feed", func(tx *sqlx.Tx) error {
		return upsertFeed(ctx, tx, rec)
	})
}

func (s *SQLiteStore) GetEntries(ctx context.Context, feedURL string) ([]*Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM entries WHERE feed = ? ORDER BY date DESC, entry ASC", feedURL)
	if err != nil {
		return nil, wrapErr("get entries", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].entry())
	}
	SortEntries(entries)
	return entries, nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, feedURL, guid string) (*Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM entries WHERE feed = ? AND entry = ?", feedURL, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, wrapErr("get entry", err)
	}
	return row.entry(), nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, feedURL string, e *Entry) error {
	return s.inTx(ctx, "put entry", func(tx *sqlx.Tx) error {
		if err := insertEntryRow(ctx, tx, feedURL, e); err != nil {
			return err
		}
		return refreshUnread(ctx, tx, feedURL)
	})
}

func (s *SQLiteStore) SetUnread(ctx context.Context, feedURL, guid string, unread bool) (bool, error) {
	changed := false
	err := s.inTx(ctx, "set unread", func(tx *sqlx.Tx) error {
		changed = false
		var current bool
		err := tx.GetContext(ctx, &current, "SELECT unread FROM entries WHERE feed = ? AND entry = ?", feedURL, guid)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		if current == unread {
			return nil
		}
		if unread {
			return ErrReadIsFinal
		}
		if _, err := tx.ExecContext(ctx, "UPDATE entries SET unread = 0 WHERE feed = ? AND entry = ?", feedURL, guid); err != nil {
			return err
		}
		changed = true
		return refreshUnread(ctx, tx, feedURL)
	})
	return changed, err
}

func (s *SQLiteStore) MarkFeedRead(ctx context.Context, feedURL string) (int, error) {
	changed := 0
	err := s.inTx(ctx, "mark feed read", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE entries SET unread = 0 WHERE feed = ? AND unread = 1", feedURL)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = int(n)
		return refreshUnread(ctx, tx, feedURL)
	})
	return changed, err
}

func (s *SQLiteStore) Merge(ctx context.Context, rec *FeedRecord, entries []*Entry) error {
	return s.inTx(ctx, "merge", func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if err := insertEntryRow(ctx, tx, rec.URL, e); err != nil {
				return err
			}
		}
		return upsertFeed(ctx, tx, rec)
	})
}

// inTx runs fn in a transaction, retrying when the database is locked.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	err := retrier.Do(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return classify(err)
		}
		return classify(tx.Commit())
	}, errNotRetryable)

	var stop *stopError
	if errors.As(err, &stop) {
		err = stop.err
	}
	return wrapErr(op, err)
}

func upsertFeed(ctx context.Context, tx *sqlx.Tx, rec *FeedRecord) error {
	var unread int
	if err := tx.GetContext(ctx, &unread, "SELECT COUNT(*) FROM entries WHERE feed = ? AND unread = 1", rec.URL); err != nil {
		return err
	}
	rec.Unread = unread

	row := newFeedRow(rec)
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO feeds (feed, title, favicon, icon_resolved, etag, lastmodified, unread, last_fetched)
		VALUES (:feed, :title, :favicon, :icon_resolved, :etag, :lastmodified, :unread, :last_fetched)
		ON CONFLICT(feed) DO UPDATE SET
			title = excluded.title,
			favicon = excluded.favicon,
			icon_resolved = excluded.icon_resolved,
			etag = excluded.etag,
			lastmodified = excluded.lastmodified,
			unread = excluded.unread,
			last_fetched = excluded.last_fetched
	`, row)
	return err
}

func refreshUnread(ctx context.Context, tx *sqlx.Tx, feedURL string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE feeds SET unread = (SELECT COUNT(*) FROM entries WHERE feed = ? AND unread = 1)
		WHERE feed = ?
	`, feedURL, feedURL)
	return err
}

func insertEntryRow(ctx context.Context, tx *sqlx.Tx, feedURL string, e *Entry) error {
	if e.GUID == "" {
		return &stopError{err: fmt.Errorf("entry without guid")}
	}
	row, err := newEntryRow(feedURL, e)
	if err != nil {
		return &stopError{err: err}
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO entries (feed, entry, title, content, link, date, unread, categories)
		VALUES (:feed, :entry, :title, :content, :link, :date, :unread, :categories)
	`, row)
	return err
}

func newFeedRow(rec *FeedRecord) feedRow {
	row := feedRow{
		Feed:         rec.URL,
		Title:        rec.Title,
		Favicon:      rec.Icon,
		IconResolved: rec.IconResolved,
		ETag:         rec.ETag,
		LastModified: rec.LastModified,
		Unread:       rec.Unread,
	}
	if !rec.LastFetched.IsZero() {
		row.LastFetched = rec.LastFetched.Unix()
	}
	return row
}

func (r *feedRow) record() *FeedRecord {
	rec := &FeedRecord{
		URL:          r.Feed,
		Title:        r.Title,
		Icon:         r.Favicon,
		IconResolved: r.IconResolved,
		ETag:         r.ETag,
		LastModified: r.LastModified,
		Unread:       r.Unread,
	}
	if r.LastFetched > 0 {
		rec.LastFetched = time.Unix(r.LastFetched, 0)
	}
	return rec
}

func newEntryRow(feedURL string, e *Entry) (entryRow, error) {
	cats, err := json.Marshal(e.Categories)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode categories: %w", err)
	}
	return entryRow{
		Feed:       feedURL,
		Entry:      e.GUID,
		Title:      e.Title,
		Content:    e.Content,
		Link:       e.Link,
		Date:       e.Published,
		Unread:     e.Unread,
		Categories: string(cats),
	}, nil
}

func (r *entryRow) entry() *Entry {
	e := &Entry{
		GUID:      r.Entry,
		Title:     r.Title,
		Content:   r.Content,
		Link:      r.Link,
		Published: r.Date,
		Unread:    r.Unread,
	}
	if r.Categories != "" {
		_ = json.Unmarshal([]byte(r.Categories), &e.Categories)
	}
	return e
}

var errNotRetryable = errors.New("not retryable")

// stopError marks a failure that retrying cannot fix.
type stopError struct {
	err error
}

func (e *stopError) Error() string        { return e.err.Error() }
func (e *stopError) Unwrap() error        { return e.err }
func (e *stopError) Is(target error) bool { return target == errNotRetryable }

// classify lets lock errors through for a retry and marks everything else final.
func classify(err error) error {
	if err == nil || isLockError(err) {
		return err
	}
	var stop *stopError
	if errors.As(err, &stop) {
		return err
	}
	return &stopError{err: err}
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
