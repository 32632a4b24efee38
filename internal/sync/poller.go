package sync

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	gosync "sync"

	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

// observation is what one poll saw of a file.
type observation struct {
	sig     index.Signature
	missing bool
}

type polled struct {
	path string
	obs  observation
}

// poller watches network roots, where change notification is
// unreliable, by stat-polling the indexed files under them and the
// newest bucket of each root. A file whose observation differs from
// the index is queued once two consecutive polls agree on it.
type poller struct {
	e     *Engine
	roots []watchRoot

	mu      gosync.Mutex
	last    map[string]polled
	timer   Timer
	stopped bool
}

func newPoller(e *Engine, roots []watchRoot) *poller {
	return &poller{
		e:     e,
		roots: roots,
		last:  make(map[string]polled),
	}
}

func (p *poller) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = p.e.sched.AfterFunc(p.e.opts.PollInterval, p.poll)
}

func (p *poller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *poller) poll() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	cur := p.observe()

	p.mu.Lock()
	var ready []string
	for key, c := range cur {
		prev, ok := p.last[key]
		if ok && prev.obs == c.obs && p.stale(c) {
			ready = append(ready, c.path)
		}
	}
	p.last = cur
	if !p.stopped {
		p.timer = p.e.sched.AfterFunc(p.e.opts.PollInterval, p.poll)
	}
	p.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		p.e.enqueue(path)
	}
	if len(ready) > 0 {
		p.e.logger.Debug().Int("files", len(ready)).Msg("poller: changes settled")
	}
}

// observe stats every candidate file. Files that fail with anything
// but not-exist are left out of the snapshot.
func (p *poller) observe() map[string]polled {
	paths := make(map[string]string)
	for _, path := range p.e.store.Paths() {
		if _, ok := ownerOf(p.roots, path); ok {
			paths[pathkey.Canonical(path)] = path
		}
	}
	for _, wr := range p.roots {
		def := wr.def()
		for _, dir := range parser.RecentBuckets(def, wr.root.Path, 1) {
			for _, f := range def.ListBucket(wr.root.Path, dir, p.e.opts.Discover) {
				paths[pathkey.Canonical(f.Path)] = f.Path
			}
		}
	}

	out := make(map[string]polled, len(paths))
	for key, path := range paths {
		fi, err := os.Stat(path)
		switch {
		case err == nil:
			out[key] = polled{path: path, obs: observation{sig: index.SignatureOf(fi)}}
		case errors.Is(err, fs.ErrNotExist):
			out[key] = polled{path: path, obs: observation{missing: true}}
		}
	}
	return out
}

// stale reports whether the index disagrees with what was observed.
func (p *poller) stale(c polled) bool {
	if c.obs.missing {
		_, ok := p.e.store.Summary(c.path)
		return ok
	}
	return p.e.store.Diff(c.path, c.obs.sig)
}
