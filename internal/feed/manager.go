package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/pders01/feedsync/internal/config"
	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/metrics"
	"github.com/pders01/feedsync/internal/storage"
)

// FeedStatus is the last known sync state of one source.
type FeedStatus struct {
	LastSync time.Time
	LastErr  error
	Outcome  string
}

// Failed reports whether the last sync of the feed failed.
func (s FeedStatus) Failed() bool {
	return s.LastErr != nil
}

// Manager coordinates synchronization of the configured sources. Fetching
// and icon resolution run concurrently; reconciliation and every other
// storage write are serialized.
type Manager struct {
	store        storage.Store
	sources      []config.Source
	fetcher      *Fetcher
	forceFetcher *Fetcher
	parser       *Parser
	icons        *IconResolver
	reconciler   *Reconciler
	metrics      *metrics.Metrics
	sem          *semaphore.Weighted

	// writeMu serializes storage mutations.
	writeMu sync.Mutex

	mu        sync.Mutex
	inflight  map[task]*Run
	batch     *Run
	status    map[string]FeedStatus
	listeners []Listener
	closed    bool
	wg        sync.WaitGroup
}

type Option func(*Manager)

// WithTransport replaces the HTTP transport used for feeds and icons.
func WithTransport(t Transport) Option {
	return func(m *Manager) {
		m.fetcher = NewFetcher(t)
		m.forceFetcher = NewFetcher(t)
		m.forceFetcher.SetIgnoreCache(true)
		m.icons = NewIconResolver(t)
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func NewManager(store storage.Store, cfg *config.Config, sources []config.Source, opts ...Option) *Manager {
	maxConcurrent := int64(cfg.Feed.MaxConcurrent)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	m := &Manager{
		store:      store,
		sources:    append([]config.Source(nil), sources...),
		parser:     NewParser(),
		reconciler: NewReconciler(store),
		sem:        semaphore.NewWeighted(maxConcurrent),
		inflight:   make(map[task]*Run),
		status:     make(map[string]FeedStatus),
	}
	WithTransport(NewHTTPTransport(TransportOptions{
		Timeout:      cfg.Feed.HTTPTimeout,
		UserAgent:    cfg.Feed.UserAgent,
		HostInterval: cfg.Feed.HostInterval,
	}))(m)

	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(prometheus.NewRegistry())
	}
	return m
}

// Sources returns the configured sources in configuration order.
func (m *Manager) Sources() []config.Source {
	return append([]config.Source(nil), m.sources...)
}

func (m *Manager) source(feedURL string) (config.Source, bool) {
	for _, s := range m.sources {
		if s.URL == feedURL {
			return s, true
		}
	}
	return config.Source{}, false
}

// StartSync starts a full batch over every source. Sources whose refresh is
// already in flight are left to that refresh. BatchStarted fires before
// StartSync returns; BatchCompleted fires once every task of the batch is
// done and the store has been flushed.
func (m *Manager) StartSync(ctx context.Context) (*Run, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.batch != nil {
		m.mu.Unlock()
		return nil, ErrSyncInProgress
	}

	run := newRun(true)
	var tasks []task
	for _, src := range m.sources {
		t := task{url: src.URL, kind: feedTask}
		if m.schedule(run, t) {
			tasks = append(tasks, t)
		}
	}
	m.batch = run
	run.update(func(s *Summary) { s.Feeds = len(tasks) })
	empty := len(tasks) == 0
	if empty {
		run.finished = true
	}
	m.mu.Unlock()

	debuglog.Infof("sync started: %d feeds", len(tasks))
	m.notify(func(l Listener) { l.BatchStarted() })

	if empty {
		m.finish(run)
		return run, nil
	}
	for _, t := range tasks {
		go m.runFeed(ctx, run, t, false)
	}
	return run, nil
}

// RefreshFeed syncs a single source. force skips the conditional headers.
func (m *Manager) RefreshFeed(ctx context.Context, feedURL string, force bool) (*Run, error) {
	if _, ok := m.source(feedURL); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedURL)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	run := newRun(false)
	t := task{url: feedURL, kind: feedTask}
	if !m.schedule(run, t) {
		m.mu.Unlock()
		return nil, ErrAlreadyScheduled
	}
	run.update(func(s *Summary) { s.Feeds = 1 })
	m.mu.Unlock()

	debuglog.Debugf("refresh %s (force=%v)", feedURL, force)
	go m.runFeed(ctx, run, t, force)
	return run, nil
}

// Syncing reports whether a full batch is running.
func (m *Manager) Syncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batch != nil
}

// Pending reports whether any task for feedURL is outstanding.
func (m *Manager) Pending(feedURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.inflight {
		if t.url == feedURL {
			return true
		}
	}
	return false
}

// CanRefresh reports whether RefreshFeed would accept feedURL now.
func (m *Manager) CanRefresh(feedURL string) bool {
	if _, ok := m.source(feedURL); !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.inflight[task{url: feedURL, kind: feedTask}]
	return !busy && !m.closed
}

func (m *Manager) Status(feedURL string) FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[feedURL]
}

func (m *Manager) runFeed(ctx context.Context, run *Run, t task, force bool) {
	m.metrics.TaskStarted()
	defer m.metrics.TaskDone()

	doc, needsIcon, err := m.syncFeed(ctx, run, t.url, force)
	if err != nil {
		run.update(func(s *Summary) { s.Failed++ })
		m.setStatus(t.url, err, "failed")
	}

	if needsIcon {
		m.mu.Lock()
		it := task{url: t.url, kind: iconTask}
		scheduled := m.schedule(run, it)
		m.mu.Unlock()
		if scheduled {
			go m.runIcon(ctx, run, it, doc)
		}
	}
	m.complete(run, t)
}

// syncFeed fetches, parses and reconciles one source. It returns the fetched
// document (nil when unchanged) and whether the icon cascade should run.
func (m *Manager) syncFeed(ctx context.Context, run *Run, feedURL string, force bool) ([]byte, bool, error) {
	prior, err := m.store.GetFeed(ctx, feedURL)
	if err != nil && !errors.Is(err, storage.ErrFeedNotFound) {
		m.storageFailed(run, feedURL, err)
		return nil, false, err
	}

	var validators storage.Validators
	if prior != nil {
		validators = prior.Validators()
	}
	fetcher := m.fetcher
	if force {
		fetcher = m.forceFetcher
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, false, &TransportError{URL: feedURL, Err: err}
	}
	res, err := fetcher.Fetch(ctx, feedURL, validators)
	m.sem.Release(1)
	if err != nil {
		debuglog.Warnf("%v", err)
		m.metrics.Fetch("transport_error")
		return nil, false, err
	}

	if res.Outcome == OutcomeUnchanged {
		debuglog.Debugf("%s: not modified", feedURL)
		m.metrics.Fetch("unchanged")
		run.update(func(s *Summary) { s.Unchanged++ })
		m.setStatus(feedURL, nil, res.Outcome.String())
		return nil, prior != nil && prior.NeedsIcon(), nil
	}

	parsed, err := m.parser.Parse(res.Body)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.URL = feedURL
		}
		debuglog.Warnf("%v", err)
		m.metrics.Fetch("parse_error")
		return nil, false, err
	}

	m.writeMu.Lock()
	result, err := m.reconciler.Reconcile(ctx, feedURL, parsed, res.Validators)
	m.writeMu.Unlock()
	if err != nil {
		m.storageFailed(run, feedURL, err)
		return nil, false, err
	}

	m.metrics.Fetch("content")
	m.metrics.NewEntries(len(result.New))
	run.update(func(s *Summary) {
		s.Updated++
		s.NewEntries += len(result.New)
	})
	debuglog.WithFields(map[string]interface{}{
		"feed":    feedURL,
		"new":     len(result.New),
		"dropped": result.Dropped,
		"unread":  result.Record.Unread,
	}).Infof("feed reconciled")

	m.setStatus(feedURL, nil, res.Outcome.String())
	m.notify(func(l Listener) { l.FeedUpdated(feedURL) })
	return res.Body, result.Record.NeedsIcon(), nil
}

func (m *Manager) runIcon(ctx context.Context, run *Run, t task, doc []byte) {
	m.metrics.TaskStarted()
	defer m.metrics.TaskDone()
	defer m.complete(run, t)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	icon := m.icons.Resolve(ctx, t.url, doc)
	m.sem.Release(1)

	m.writeMu.Lock()
	stored, err := m.storeIcon(ctx, t.url, icon)
	m.writeMu.Unlock()
	if err != nil {
		m.storageFailed(run, t.url, err)
		return
	}
	if !stored {
		return
	}

	m.metrics.Icon(len(icon) > 0)
	if len(icon) > 0 {
		run.update(func(s *Summary) { s.Icons++ })
	}
	m.notify(func(l Listener) { l.FeedUpdated(t.url) })
}

// storeIcon records the cascade result unless one was stored meanwhile. An
// empty icon is the final "no icon" answer.
func (m *Manager) storeIcon(ctx context.Context, feedURL string, icon []byte) (bool, error) {
	rec, err := m.store.GetFeed(ctx, feedURL)
	if errors.Is(err, storage.ErrFeedNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.IconResolved {
		return false, nil
	}
	rec.Icon = icon
	rec.IconResolved = true
	return true, m.store.PutFeed(ctx, rec)
}

// finish flushes the store and signals the end of the run.
func (m *Manager) finish(run *Run) {
	m.writeMu.Lock()
	err := m.store.Flush(context.Background())
	m.writeMu.Unlock()
	if err != nil {
		debuglog.Errorf("flush: %v", err)
		run.fail(err)
	}

	run.update(func(s *Summary) { s.Duration = time.Since(run.started) })
	summary := run.Summary()

	if run.full {
		m.metrics.BatchDone(summary.Duration)
		m.mu.Lock()
		m.batch = nil
		m.mu.Unlock()
		debuglog.Infof("sync finished in %s: %d updated, %d unchanged, %d failed, %d new entries",
			summary.Duration.Round(time.Millisecond), summary.Updated, summary.Unchanged, summary.Failed, summary.NewEntries)
		m.notify(func(l Listener) { l.BatchCompleted(summary) })
	}
	close(run.done)
}

func (m *Manager) storageFailed(run *Run, feedURL string, err error) {
	debuglog.Errorf("%s: %v", feedURL, err)
	m.metrics.Fetch("storage_error")
	run.fail(err)
}

// setStatus records the outcome and fires FeedUpdated when the error
// indicator flips.
func (m *Manager) setStatus(feedURL string, err error, outcome string) {
	m.mu.Lock()
	prev := m.status[feedURL]
	m.status[feedURL] = FeedStatus{LastSync: time.Now(), LastErr: err, Outcome: outcome}
	m.mu.Unlock()

	if prev.Failed() != (err != nil) {
		m.notify(func(l Listener) { l.FeedUpdated(feedURL) })
	}
}

// Watch starts a batch immediately and then every interval until ctx ends.
// A tick that finds a batch still running is skipped.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := m.StartSync(ctx); err != nil {
			switch {
			case errors.Is(err, ErrSyncInProgress):
				debuglog.Debugf("auto-sync skipped: batch still running")
			case errors.Is(err, ErrClosed):
				return err
			default:
				debuglog.Errorf("auto-sync: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// MarkEntryRead marks one entry read. Marking an already read entry is a no-op.
// The store is not flushed here: the write becomes durable with the next
// completed run or when the store is closed.
func (m *Manager) MarkEntryRead(ctx context.Context, feedURL, guid string) error {
	m.writeMu.Lock()
	changed, err := m.store.SetUnread(ctx, feedURL, guid, false)
	m.writeMu.Unlock()
	if err != nil || !changed {
		return err
	}

	m.notify(func(l Listener) { l.EntryRead(feedURL, guid) })
	m.notify(func(l Listener) { l.FeedUpdated(feedURL) })
	return nil
}

// MarkFeedRead marks every entry of feedURL read and returns how many changed.
func (m *Manager) MarkFeedRead(ctx context.Context, feedURL string) (int, error) {
	m.writeMu.Lock()
	n, err := m.store.MarkFeedRead(ctx, feedURL)
	if err == nil {
		err = m.store.Flush(ctx)
	}
	m.writeMu.Unlock()
	if err != nil {
		return 0, err
	}

	if n > 0 {
		m.notify(func(l Listener) { l.FeedUpdated(feedURL) })
	}
	return n, nil
}

// MarkAllRead marks every entry of every source read with a single flush.
func (m *Manager) MarkAllRead(ctx context.Context) (int, error) {
	var changed []string
	total := 0

	m.writeMu.Lock()
	for _, src := range m.sources {
		n, err := m.store.MarkFeedRead(ctx, src.URL)
		if err != nil {
			m.writeMu.Unlock()
			return total, err
		}
		if n > 0 {
			changed = append(changed, src.URL)
			total += n
		}
	}
	err := m.store.Flush(ctx)
	m.writeMu.Unlock()
	if err != nil {
		return total, err
	}

	for _, u := range changed {
		feedURL := u
		m.notify(func(l Listener) { l.FeedUpdated(feedURL) })
	}
	return total, nil
}

// ResetIcon clears a stored icon or "no icon" answer so the next sync runs
// the icon cascade again.
func (m *Manager) ResetIcon(ctx context.Context, feedURL string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	rec, err := m.store.GetFeed(ctx, feedURL)
	if err != nil {
		return err
	}
	rec.Icon = nil
	rec.IconResolved = false
	if err := m.store.PutFeed(ctx, rec); err != nil {
		return err
	}
	return m.store.Flush(ctx)
}

// Close stops accepting work and waits for outstanding tasks. The store is
// left open.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
