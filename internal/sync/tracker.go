package sync

import (
	gosync "sync"
	"time"
)

// retryDelays are the waits before each forced re-parse of a
// session whose working directory is not yet known.
var retryDelays = [...]time.Duration{
	2 * time.Second,
	6 * time.Second,
	12 * time.Second,
}

// fileState is the reconcile state of one session file.
//
//	Idle -> Debounced -> Parsing -> Idle
//	                        |
//	                        +-> RetryScheduled(n) -> Parsing
type fileState int

const (
	stateIdle fileState = iota
	stateDebounced
	stateParsing
	stateRetryScheduled
)

func (s fileState) String() string {
	switch s {
	case stateDebounced:
		return "debounced"
	case stateParsing:
		return "parsing"
	case stateRetryScheduled:
		return "retry-scheduled"
	}
	return "idle"
}

type fileEntry struct {
	state      fileState
	rerun      bool
	rerunForce bool
	retry      Timer
	attempts   int
	exhausted  bool
}

// tracker owns the per-file state machines, keyed by canonical
// path. It serializes reconciles of one path: a request arriving
// while the path is Parsing sets a rerun flag instead.
type tracker struct {
	mu      gosync.Mutex
	entries map[string]*fileEntry
}

func newTracker() *tracker {
	return &tracker{entries: make(map[string]*fileEntry)}
}

func (t *tracker) entry(key string) *fileEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &fileEntry{}
		t.entries[key] = e
	}
	return e
}

// begin moves key to Parsing. It returns false when a reconcile is
// already in flight; the request is then folded into a rerun.
func (t *tracker) begin(key string, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	if e.state == stateParsing {
		e.rerun = true
		e.rerunForce = e.rerunForce || force
		return false
	}
	e.state = stateParsing
	return true
}

// finish ends a reconcile pass. again reports a rerun requested
// while the pass was in flight; the path then stays Parsing.
func (t *tracker) finish(key string) (again, force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	if e.rerun {
		force = e.rerunForce
		e.rerun, e.rerunForce = false, false
		return true, force
	}
	if e.retry != nil {
		e.state = stateRetryScheduled
		return false, false
	}
	e.state = stateIdle
	if e.attempts == 0 && !e.exhausted {
		delete(t.entries, key)
	}
	return false, false
}

// debounced marks an idle key as waiting in the debounce queue.
func (t *tracker) debounced(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.entry(key); e.state == stateIdle {
		e.state = stateDebounced
	}
}

// undebounce returns a Debounced key to rest when its queued
// request is dropped without a reconcile.
func (t *tracker) undebounce(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.state != stateDebounced {
		return
	}
	if e.retry != nil {
		e.state = stateRetryScheduled
		return
	}
	e.state = stateIdle
	if e.attempts == 0 && !e.exhausted {
		delete(t.entries, key)
	}
}

// armRetry schedules the next retry of key unless one is pending or
// the budget is spent. attempt is the 1-based retry number armed.
// exhausted is true only on the call that finds the budget spent;
// later calls return (0, false).
func (t *tracker) armRetry(
	key string, sched Scheduler, fire func(),
) (attempt int, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(key)
	if e.retry != nil || e.exhausted {
		return 0, false
	}
	if e.attempts >= len(retryDelays) {
		e.exhausted = true
		return 0, true
	}
	d := retryDelays[e.attempts]
	e.attempts++
	e.retry = sched.AfterFunc(d, func() {
		t.mu.Lock()
		e.retry = nil
		t.mu.Unlock()
		fire()
	})
	return e.attempts, false
}

// resolved clears the retry state of key.
func (t *tracker) resolved(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.attempts = 0
	e.exhausted = false
}

// forget drops all state of key after its file is removed.
func (t *tracker) forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.attempts = 0
	e.exhausted = false
	if e.state != stateParsing {
		delete(t.entries, key)
	}
}

// stopAll cancels every pending retry.
func (t *tracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.retry != nil {
			e.retry.Stop()
			e.retry = nil
		}
		if e.state != stateParsing {
			delete(t.entries, k)
		}
	}
}

func (t *tracker) state(key string) fileState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		return e.state
	}
	return stateIdle
}

// pendingRetries counts keys with an armed retry timer.
func (t *tracker) pendingRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.retry != nil {
			n++
		}
	}
	return n
}
