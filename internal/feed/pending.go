package feed

import (
	"context"
	"sync"
	"time"
)

type taskKind int

const (
	feedTask taskKind = iota
	iconTask
)

func (k taskKind) String() string {
	if k == iconTask {
		return "icon"
	}
	return "feed"
}

// task identifies one outstanding asynchronous operation.
type task struct {
	url  string
	kind taskKind
}

// Run tracks one batch or one manual refresh. It is done when its last
// pending task completes and the store has been flushed.
type Run struct {
	full    bool
	started time.Time

	// pending is guarded by Manager.mu.
	pending  map[task]struct{}
	finished bool

	mu      sync.Mutex
	summary Summary
	err     error

	done chan struct{}
}

func newRun(full bool) *Run {
	return &Run{
		full:    full,
		started: time.Now(),
		pending: make(map[task]struct{}),
		done:    make(chan struct{}),
	}
}

// Done is closed once the run has completed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run completes or ctx ends. The error is the first
// storage failure of the run, if any.
func (r *Run) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-r.done:
		return r.Summary(), r.Err()
	case <-ctx.Done():
		return r.Summary(), ctx.Err()
	}
}

func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) update(fn func(s *Summary)) {
	r.mu.Lock()
	fn(&r.summary)
	r.mu.Unlock()
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// schedule adds t to the run unless the same task is already in flight
// anywhere. Caller holds m.mu.
func (m *Manager) schedule(r *Run, t task) bool {
	if _, busy := m.inflight[t]; busy {
		return false
	}
	m.inflight[t] = r
	r.pending[t] = struct{}{}
	m.wg.Add(1)
	return true
}

// complete removes t and finishes the run when nothing is left.
func (m *Manager) complete(r *Run, t task) {
	m.mu.Lock()
	delete(m.inflight, t)
	delete(r.pending, t)
	last := len(r.pending) == 0 && !r.finished
	if last {
		r.finished = true
	}
	m.mu.Unlock()

	if last {
		m.finish(r)
	}
	m.wg.Done()
}
