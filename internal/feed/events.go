package feed

import "time"

// Summary describes a finished run.
type Summary struct {
	Feeds      int
	Updated    int
	Unchanged  int
	Failed     int
	NewEntries int
	Icons      int
	Duration   time.Duration
}

// Listener receives engine notifications. Methods are called from task
// goroutines and must not block for long.
type Listener interface {
	BatchStarted()
	BatchCompleted(Summary)
	// FeedUpdated fires when a feed's record, entries or error state changed.
	FeedUpdated(feedURL string)
	EntryRead(feedURL, guid string)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	OnBatchStarted   func()
	OnBatchCompleted func(Summary)
	OnFeedUpdated    func(feedURL string)
	OnEntryRead      func(feedURL, guid string)
}

func (l ListenerFuncs) BatchStarted() {
	if l.OnBatchStarted != nil {
		l.OnBatchStarted()
	}
}

func (l ListenerFuncs) BatchCompleted(s Summary) {
	if l.OnBatchCompleted != nil {
		l.OnBatchCompleted(s)
	}
}

func (l ListenerFuncs) FeedUpdated(feedURL string) {
	if l.OnFeedUpdated != nil {
		l.OnFeedUpdated(feedURL)
	}
}

func (l ListenerFuncs) EntryRead(feedURL, guid string) {
	if l.OnEntryRead != nil {
		l.OnEntryRead(feedURL, guid)
	}
}

func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(fn func(Listener)) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		fn(l)
	}
}
