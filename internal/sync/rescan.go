package sync

import (
	"os"
	gosync "sync"
	"time"

	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

// rescanBuckets is how many of the newest buckets a rescan lists.
const rescanBuckets = 2

// rescanner periodically re-lists the newest buckets of its roots
// and queues files whose signature differs from the index. A file
// queued by a rescan is not queued again until the cooldown has
// passed.
type rescanner struct {
	e     *Engine
	roots []watchRoot

	mu      gosync.Mutex
	queued  map[string]time.Time
	timer   Timer
	stopped bool
}

func newRescanner(e *Engine, roots []watchRoot) *rescanner {
	return &rescanner{
		e:      e,
		roots:  roots,
		queued: make(map[string]time.Time),
	}
}

func (r *rescanner) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = r.e.sched.AfterFunc(r.e.opts.RescanInterval, r.run)
}

func (r *rescanner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *rescanner) run() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if n := r.scan(); n > 0 {
		r.e.logger.Debug().Int("files", n).Msg("rescan queued changed files")
	}

	r.mu.Lock()
	if !r.stopped {
		r.timer = r.e.sched.AfterFunc(r.e.opts.RescanInterval, r.run)
	}
	r.mu.Unlock()
}

// scan queues changed files in the newest buckets and returns how
// many were queued.
func (r *rescanner) scan() int {
	now := r.e.sched.Now()
	cooldown := r.e.opts.RescanCooldown
	var changed []string

	r.mu.Lock()
	for _, wr := range r.roots {
		def := wr.def()
		for _, dir := range parser.RecentBuckets(def, wr.root.Path, rescanBuckets) {
			for _, f := range def.ListBucket(wr.root.Path, dir, r.e.opts.Discover) {
				key := pathkey.Canonical(f.Path)
				if last, ok := r.queued[key]; ok && now.Sub(last) < cooldown {
					continue
				}
				fi, err := os.Stat(f.Path)
				if err != nil {
					continue
				}
				if !r.e.store.Diff(f.Path, index.SignatureOf(fi)) {
					continue
				}
				r.queued[key] = now
				changed = append(changed, f.Path)
			}
		}
	}
	for key, t := range r.queued {
		if now.Sub(t) >= cooldown {
			delete(r.queued, key)
		}
	}
	r.mu.Unlock()

	for _, path := range changed {
		r.e.enqueue(path)
	}
	return len(changed)
}
