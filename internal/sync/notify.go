package sync

import (
	gosync "sync"

	"github.com/wesm/sessionwatch/internal/parser"
)

// maxAddBatch caps the summaries delivered in one SessionsAdded call.
const maxAddBatch = 50

// Notifier receives index deltas. Calls may come from any
// goroutine; implementations must not block for long.
type Notifier interface {
	SessionsAdded(summaries []parser.Summary)
	SessionUpdated(summary parser.Summary)
	SessionRemoved(path string)
}

// NopNotifier discards every delta.
type NopNotifier struct{}

func (NopNotifier) SessionsAdded([]parser.Summary) {}
func (NopNotifier) SessionUpdated(parser.Summary)  {}
func (NopNotifier) SessionRemoved(string)          {}

// addBatcher coalesces SessionsAdded calls within one pass.
type addBatcher struct {
	n       Notifier
	mu      gosync.Mutex
	pending []parser.Summary
}

func newAddBatcher(n Notifier) *addBatcher {
	return &addBatcher{n: n}
}

func (b *addBatcher) add(s parser.Summary) {
	b.mu.Lock()
	b.pending = append(b.pending, s)
	var full []parser.Summary
	if len(b.pending) >= maxAddBatch {
		full = b.pending
		b.pending = nil
	}
	b.mu.Unlock()
	if full != nil {
		b.n.SessionsAdded(full)
	}
}

// flush delivers whatever is pending.
func (b *addBatcher) flush() {
	b.mu.Lock()
	rest := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(rest) > 0 {
		b.n.SessionsAdded(rest)
	}
}
