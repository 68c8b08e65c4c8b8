package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	feedsBucket   = []byte("feeds")
	entriesBucket = []byte("entries")
)

// BoltStore keeps feeds in an ordered key/value file. Feed records live in the
// "feeds" bucket keyed by URL; entries live in one nested bucket per feed
// under "entries", keyed by guid.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens the database at dbPath. Commits are not fsynced; Flush
// makes them durable.
func NewBoltStore(dbPath string, timeout time.Duration) (*BoltStore, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{feedsBucket, entriesBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return wrapErr("close", err)
	}
	return wrapErr("close", s.db.Close())
}

func (s *BoltStore) Flush(_ context.Context) error {
	return wrapErr("flush", s.db.Sync())
}

func (s *BoltStore) GetFeed(_ context.Context, feedURL string) (*FeedRecord, error) {
	var rec FeedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(feedsBucket).Get([]byte(feedURL))
		if data == nil {
			return ErrFeedNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, wrapErr("get feed", err)
	}
	return &rec, nil
}

func (s *BoltStore) PutFeed(_ context.Context, rec *FeedRecord) error {
	return wrapErr("put feed", s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx, rec)
	}))
}

func (s *BoltStore) GetEntries(_ context.Context, feedURL string) ([]*Entry, error) {
	entries := []*Entry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket).Bucket([]byte(feedURL))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, wrapErr("get entries", err)
	}
	SortEntries(entries)
	return entries, nil
}

func (s *BoltStore) GetEntry(_ context.Context, feedURL, guid string) (*Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket).Bucket([]byte(feedURL))
		if b == nil {
			return ErrEntryNotFound
		}
		data := b.Get([]byte(guid))
		if data == nil {
			return ErrEntryNotFound
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, wrapErr("get entry", err)
	}
	return &e, nil
}

func (s *BoltStore) PutEntry(_ context.Context, feedURL string, e *Entry) error {
	return wrapErr("put entry", s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(entriesBucket).CreateBucketIfNotExists([]byte(feedURL))
		if err != nil {
			return err
		}
		if _, err := insertEntry(b, e); err != nil {
			return err
		}
		return rederiveUnread(tx, feedURL)
	}))
}

func (s *BoltStore) SetUnread(_ context.Context, feedURL, guid string, unread bool) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket).Bucket([]byte(feedURL))
		if b == nil {
			return ErrEntryNotFound
		}
		data := b.Get([]byte(guid))
		if data == nil {
			return ErrEntryNotFound
		}

		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if e.Unread == unread {
			return nil
		}
		if unread {
			return ErrReadIsFinal
		}

		e.Unread = false
		data, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(guid), data); err != nil {
			return err
		}
		changed = true
		return rederiveUnread(tx, feedURL)
	})
	return changed, wrapErr("set unread", err)
}

func (s *BoltStore) MarkFeedRead(_ context.Context, feedURL string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket).Bucket([]byte(feedURL))
		if b == nil {
			return nil
		}

		updates := map[string][]byte{}
		err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.Unread {
				return nil
			}
			e.Unread = false
			data, err := json.Marshal(&e)
			if err != nil {
				return err
			}
			updates[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}

		// bbolt forbids mutating a bucket while iterating it with ForEach.
		for k, v := range updates {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		changed = len(updates)
		return rederiveUnread(tx, feedURL)
	})
	if err != nil {
		return 0, wrapErr("mark feed read", err)
	}
	return changed, nil
}

func (s *BoltStore) Merge(_ context.Context, rec *FeedRecord, entries []*Entry) error {
	return wrapErr("merge", s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(entriesBucket).CreateBucketIfNotExists([]byte(rec.URL))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := insertEntry(b, e); err != nil {
				return err
			}
		}
		return putRecord(tx, rec)
	}))
}

// insertEntry stores e unless its guid is already present.
func insertEntry(b *bolt.Bucket, e *Entry) (bool, error) {
	if e.GUID == "" {
		return false, fmt.Errorf("entry without guid")
	}
	if b.Get([]byte(e.GUID)) != nil {
		return false, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return true, b.Put([]byte(e.GUID), data)
}

func putRecord(tx *bolt.Tx, rec *FeedRecord) error {
	unread, err := countUnread(tx, rec.URL)
	if err != nil {
		return err
	}
	rec.Unread = unread
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(feedsBucket).Put([]byte(rec.URL), data)
}

// rederiveUnread rewrites the feed record's unread count, if the record exists.
func rederiveUnread(tx *bolt.Tx, feedURL string) error {
	data := tx.Bucket(feedsBucket).Get([]byte(feedURL))
	if data == nil {
		return nil
	}
	var rec FeedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	return putRecord(tx, &rec)
}

func countUnread(tx *bolt.Tx, feedURL string) (int, error) {
	b := tx.Bucket(entriesBucket).Bucket([]byte(feedURL))
	if b == nil {
		return 0, nil
	}
	n := 0
	err := b.ForEach(func(_, v []byte) error {
		var flag struct {
			Unread bool `json:"unread"`
		}
		if err := json.Unmarshal(v, &flag); err != nil {
			return err
		}
		if flag.Unread {
			n++
		}
		return nil
	})
	return n, err
}
