package sync

import (
	"sort"
	gosync "sync"
	"time"

	"github.com/wesm/sessionwatch/internal/pathkey"
)

// queueEntry is a pending reconcile request for one file.
type queueEntry struct {
	path string
	due  time.Time
}

// debounceQueue collapses repeated requests for a path into one
// entry due a fixed delay after the latest request. A single timer
// tracks the earliest due entry. Entries carry no payload: the
// reconcile re-reads the file, so which request survives does not
// matter.
type debounceQueue struct {
	sched Scheduler
	delay time.Duration
	run   func(paths []string)

	mu      gosync.Mutex
	pending map[string]queueEntry
	timer   Timer
	closed  bool
}

func newDebounceQueue(
	sched Scheduler, delay time.Duration, run func(paths []string),
) *debounceQueue {
	return &debounceQueue{
		sched:   sched,
		delay:   delay,
		run:     run,
		pending: make(map[string]queueEntry),
	}
}

// add queues path. A path already pending has its due time pushed
// back.
func (q *debounceQueue) add(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	due := q.sched.Now().Add(q.delay)
	q.pending[pathkey.Canonical(path)] = queueEntry{path: path, due: due}
	if q.timer == nil {
		q.armLocked(due)
	}
}

func (q *debounceQueue) armLocked(due time.Time) {
	q.timer = q.sched.AfterFunc(due.Sub(q.sched.Now()), q.fire)
}

// fire hands every due entry to run and re-arms for the rest.
func (q *debounceQueue) fire() {
	q.mu.Lock()
	q.timer = nil
	if q.closed {
		q.mu.Unlock()
		return
	}
	now := q.sched.Now()
	var ready []string
	var next time.Time
	for k, e := range q.pending {
		if !e.due.After(now) {
			ready = append(ready, e.path)
			delete(q.pending, k)
			continue
		}
		if next.IsZero() || e.due.Before(next) {
			next = e.due
		}
	}
	if !next.IsZero() {
		q.armLocked(next)
	}
	q.mu.Unlock()

	if len(ready) > 0 {
		sort.Strings(ready)
		q.run(ready)
	}
}

func (q *debounceQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close drops pending entries and stops the timer.
func (q *debounceQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	clear(q.pending)
}
