package storage

import (
	"sort"
	"time"
)

// FeedRecord is the persisted state of one feed source, keyed by its URL.
type FeedRecord struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Icon         []byte    `json:"icon,omitempty"`
	IconResolved bool      `json:"icon_resolved"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Unread       int       `json:"unread"`
	LastFetched  time.Time `json:"last_fetched"`
}

// Validators returns the cache validators stored with the record.
func (r *FeedRecord) Validators() Validators {
	return Validators{ETag: r.ETag, LastModified: r.LastModified}
}

// SetValidators merges v into the record. Empty fields keep the stored value.
func (r *FeedRecord) SetValidators(v Validators) {
	merged := r.Validators().Merge(v)
	r.ETag = merged.ETag
	r.LastModified = merged.LastModified
}

// NeedsIcon reports whether the icon cascade has not run for this record yet.
func (r *FeedRecord) NeedsIcon() bool {
	return !r.IconResolved
}

// Entry is one item of a feed. Only Unread ever changes after insertion.
type Entry struct {
	GUID       string   `json:"guid"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Link       string   `json:"link"`
	Published  int64    `json:"published"`
	Categories []string `json:"categories,omitempty"`
	Unread     bool     `json:"unread"`
}

// PublishedTime returns Published as a time.Time.
func (e *Entry) PublishedTime() time.Time {
	return time.Unix(e.Published, 0)
}

// Validators is the HTTP cache-validator pair. An empty field means absent.
type Validators struct {
	ETag         string
	LastModified string
}

// IsZero reports whether neither validator is set.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Merge overlays next on v; a validator missing from next never clears the old one.
func (v Validators) Merge(next Validators) Validators {
	if next.ETag != "" {
		v.ETag = next.ETag
	}
	if next.LastModified != "" {
		v.LastModified = next.LastModified
	}
	return v
}

// SortEntries orders entries newest-published first. Ties are broken by guid so
// both backings return the same order.
func SortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Published != entries[j].Published {
			return entries[i].Published > entries[j].Published
		}
		return entries[i].GUID < entries[j].GUID
	})
}

// CountUnread returns the number of unread entries.
func CountUnread(entries []*Entry) int {
	n := 0
	for _, e := range entries {
		if e.Unread {
			n++
		}
	}
	return n
}
