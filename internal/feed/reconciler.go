package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/storage"
)

// ReconcileResult is what one reconciliation wrote.
type ReconcileResult struct {
	Record  *storage.FeedRecord
	New     []*storage.Entry
	Dropped int
}

// Reconciler merges a parsed document into the stored state of a feed.
// Callers serialize calls for the same store.
type Reconciler struct {
	store storage.Store
	now   func() time.Time
}

func NewReconciler(store storage.Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile inserts the items of parsed that are not stored yet and updates
// the feed record: title, validators and unread count. Stored entries are
// never modified. Record and entries are written in one Merge.
func (r *Reconciler) Reconcile(ctx context.Context, feedURL string, parsed *ParsedFeed, validators storage.Validators) (*ReconcileResult, error) {
	rec, err := r.store.GetFeed(ctx, feedURL)
	switch {
	case errors.Is(err, storage.ErrFeedNotFound):
		rec = &storage.FeedRecord{URL: feedURL}
	case err != nil:
		return nil, fmt.Errorf("loading feed: %w", err)
	}

	stored, err := r.store.GetEntries(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	seen := make(map[string]struct{}, len(stored)+len(parsed.Items))
	for _, e := range stored {
		seen[e.GUID] = struct{}{}
	}

	now := r.now()
	result := &ReconcileResult{Record: rec}
	for i := range parsed.Items {
		item := &parsed.Items[i]
		guid, err := item.Identifier()
		if err != nil {
			debuglog.Debugf("%s: dropping item %q: %v", feedURL, item.Title, err)
			result.Dropped++
			continue
		}
		if _, ok := seen[guid]; ok {
			continue
		}
		seen[guid] = struct{}{}

		result.New = append(result.New, &storage.Entry{
			GUID:       guid,
			Title:      item.Title,
			Content:    item.Body(),
			Link:       item.Link,
			Published:  item.Timestamp(now),
			Categories: item.Categories,
			Unread:     true,
		})
	}

	rec.Title = parsed.Title
	rec.SetValidators(validators)
	rec.LastFetched = now
	rec.Unread += len(result.New)

	if err := r.store.Merge(ctx, rec, result.New); err != nil {
		return nil, err
	}
	return result, nil
}
