// Package sync keeps the session index in step with the log files
// on disk. Full scans, filesystem events, network polling and the
// periodic rescan all feed one reconcile pipeline:
// stat, signature diff, summary parse, persist, notify.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/log"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultLocalSettle      = 250 * time.Millisecond
	DefaultPollInterval     = 3 * time.Second
	DefaultRescanInterval   = 60 * time.Second
	DefaultRescanCooldown   = 30 * time.Second
	DefaultBatchConcurrency = 6
	DefaultConcurrency      = 6
)

var (
	// ErrStarted is returned by Start on an engine that was
	// already started.
	ErrStarted = errors.New("engine already started")
	// ErrNotSession is returned by ReadDetails for a path that is
	// neither indexed nor under a configured root.
	ErrNotSession = errors.New("not a session log")
)

// Options configures an Engine. Zero durations and limits take the
// package defaults.
type Options struct {
	Store       *index.Store
	Cache       *index.DetailsCache
	Notifier    Notifier
	Logger      zerolog.Logger
	Diagnostics *log.Diagnostics
	Scheduler   Scheduler

	Roots    map[parser.Provider][]parser.ProjectRoot
	Discover parser.DiscoverOptions
	// Projects resolves Gemini project hashes. Working directories
	// seen in other logs are added to it as they are parsed.
	Projects      *parser.ProjectIndex
	KnownProjects []string

	MaxLines     int
	MaxLineBytes int
	MaxBytes     int64

	Debounce         time.Duration
	LocalSettle      time.Duration
	PollInterval     time.Duration
	RescanInterval   time.Duration
	RescanCooldown   time.Duration
	RescanLocal      bool
	BatchConcurrency int
	Concurrency      int

	OnProgress ProgressFunc
}

func (o *Options) setDefaults() {
	if o.Cache == nil {
		o.Cache = index.NewDetailsCache(index.DefaultCacheSize)
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
	if o.Scheduler == nil {
		o.Scheduler = RealScheduler{}
	}
	if o.Projects == nil {
		o.Projects = parser.NewProjectIndex()
	}
	setDuration(&o.Debounce, DefaultDebounce)
	setDuration(&o.LocalSettle, DefaultLocalSettle)
	setDuration(&o.PollInterval, DefaultPollInterval)
	setDuration(&o.RescanInterval, DefaultRescanInterval)
	setDuration(&o.RescanCooldown, DefaultRescanCooldown)
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = DefaultBatchConcurrency
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// counters are the cumulative totals behind Stats.
type counters struct {
	parses     atomic.Int64
	unchanged  atomic.Int64
	ioFailures atomic.Int64
	retries    atomic.Int64
	exhausted  atomic.Int64
	added      atomic.Int64
	updated    atomic.Int64
	removed    atomic.Int64
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Indexed          int   `json:"indexed"`
	Cached           int   `json:"cached"`
	Queued           int   `json:"queued"`
	PendingRetries   int   `json:"pending_retries"`
	Projects         int   `json:"projects"`
	Parses           int64 `json:"parses"`
	Unchanged        int64 `json:"unchanged"`
	IOFailures       int64 `json:"io_failures"`
	Retries          int64 `json:"retries"`
	RetriesExhausted int64 `json:"retries_exhausted"`
	Added            int64 `json:"added"`
	Updated          int64 `json:"updated"`
	Removed          int64 `json:"removed"`
}

// Engine owns the reconcile pipeline and the watch machinery that
// feeds it. It is the only writer of its Store.
type Engine struct {
	opts     Options
	store    *index.Store
	cache    *index.DetailsCache
	notifier Notifier
	logger   zerolog.Logger
	diag     *log.Diagnostics
	sched    Scheduler
	projects *parser.ProjectIndex

	tracker  *tracker
	queue    *debounceQueue
	adds     *addBatcher
	counters counters
	loadOnce gosync.Once

	mu      gosync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	watcher *Watcher
	poller  *poller
	rescan  *rescanner
}

// request is one reconcile to run.
type request struct {
	provider parser.Provider
	path     string
	force    bool
}

// result is what one reconcile did.
type result struct {
	outcome outcome
	parsed  bool
}

// New creates an engine. Nothing runs until Start or SyncAll.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine store is nil: %w", os.ErrInvalid)
	}
	opts.setDefaults()
	e := &Engine{
		opts:     opts,
		store:    opts.Store,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		diag:     opts.Diagnostics,
		sched:    opts.Scheduler,
		projects: opts.Projects,
		tracker:  newTracker(),
		adds:     newAddBatcher(opts.Notifier),
	}
	e.queue = newDebounceQueue(e.sched, opts.Debounce, e.flushQueue)
	return e, nil
}

// Load reads the persisted index and seeds the project index from
// configured projects, Gemini project registries and the working
// directories already indexed. It runs once; Start calls it.
func (e *Engine) Load() {
	e.loadOnce.Do(func() {
		if err := e.store.Load(); err != nil {
			if errors.Is(err, index.ErrVersionMismatch) {
				e.logger.Info().Err(err).Msg("index format changed, rebuilding")
			} else {
				e.logger.Warn().Err(err).Msg("loading index, starting empty")
			}
		}
		n := e.projects.Add(e.opts.KnownProjects...)
		for _, r := range e.opts.Roots[parser.ProviderGemini] {
			n += e.projects.LoadGeminiProjects(r.Path)
		}
		for _, s := range e.store.Summaries() {
			if s.Provider != parser.ProviderGemini && s.Cwd != "" {
				n += e.projects.Add(s.Cwd)
			}
		}
		e.logger.Debug().
			Int("sessions", e.store.Len()).
			Int("projects", n).
			Msg("index loaded")
	})
}

// Start loads the index, runs a full scan and starts watching:
// fsnotify for local roots, polling for network roots and the
// periodic rescan. An engine cannot be restarted after Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	ctx = e.ctx
	e.mu.Unlock()

	e.Load()
	stats := e.SyncAll(ctx)
	e.logger.Info().
		Int("discovered", stats.Discovered).
		Int("parsed", stats.Parsed).
		Int("removed", stats.Removed).
		Dur("took", stats.Duration).
		Msg("initial scan complete")

	e.startWatching()
	return nil
}

func (e *Engine) startWatching() {
	var local, network, rescan []watchRoot
	for _, wr := range e.allRoots() {
		if !dirExists(wr.root.Path) {
			e.logger.Debug().Str("root", wr.root.Path).
				Msg("root missing, not watching")
			continue
		}
		if wr.root.Source == parser.SourceNetwork {
			network = append(network, wr)
			rescan = append(rescan, wr)
			continue
		}
		local = append(local, wr)
		if e.opts.RescanLocal {
			rescan = append(rescan, wr)
		}
	}

	var w *Watcher
	if len(local) > 0 {
		var err error
		w, err = NewWatcher(e.opts.LocalSettle, e.logger, e.onWatchEvents)
		if err != nil {
			e.logger.Warn().Err(err).Msg("fsnotify unavailable, polling local roots")
			network = append(network, local...)
		} else {
			for _, wr := range local {
				watched, unwatched, err := w.WatchRecursive(wr.root.Path)
				ev := e.logger.Debug()
				if err != nil || unwatched > 0 {
					ev = e.logger.Warn().Err(err)
				}
				ev.Str("root", wr.root.Path).
					Int("watched", watched).
					Int("unwatched", unwatched).
					Msg("watching root")
			}
			w.Start()
		}
	}

	var p *poller
	if len(network) > 0 {
		p = newPoller(e, network)
	}
	var r *rescanner
	if len(rescan) > 0 {
		r = newRescanner(e, rescan)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		if w != nil {
			w.Stop()
		}
		return
	}
	e.watcher, e.poller, e.rescan = w, p, r
	if p != nil {
		p.start()
	}
	if r != nil {
		r.start()
	}
	e.mu.Unlock()
}

// Stop tears down every watch handle and timer, then flushes the
// index. Pending debounced paths are dropped; the next scan picks
// them up. Stop is safe to call more than once and without Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel, w, p, r := e.cancel, e.watcher, e.poller, e.rescan
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if w != nil {
		w.Stop()
	}
	if p != nil {
		p.stop()
	}
	if r != nil {
		r.stop()
	}
	e.queue.close()
	e.tracker.stopAll()
	e.adds.flush()
	return e.store.Flush()
}

// context returns the engine's run context, or Background before
// Start.
func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// SyncAll discovers every log under the configured roots, reparses
// what changed and drops index entries whose files are gone. Roots
// that do not exist are skipped and their entries kept.
func (e *Engine) SyncAll(ctx context.Context) SyncStats {
	start := e.sched.Now()
	var stats passStats
	var scanned []watchRoot
	seen := make(map[string]bool)

	for _, p := range syncOrder {
		if ctx.Err() != nil {
			break
		}
		e.progress(Progress{Phase: PhaseDiscovering, Provider: p})
		var files []parser.DiscoveredFile
		for _, r := range e.opts.Roots[p] {
			if !dirExists(r.Path) {
				continue
			}
			wr := watchRoot{provider: p, root: r}
			scanned = append(scanned, wr)
			for _, f := range wr.def().Discover(r.Path, e.opts.Discover) {
				key := pathkey.Canonical(f.Path)
				if seen[key] {
					continue
				}
				seen[key] = true
				files = append(files, f)
			}
		}
		stats.s.Discovered += len(files)
		e.syncFiles(ctx, p, files, &stats)
	}
	e.sweep(ctx, scanned, seen, &stats)
	e.finishPass()

	out := stats.snapshot()
	out.Duration = e.sched.Now().Sub(start)
	e.progress(Progress{
		Phase:      PhaseDone,
		FilesTotal: out.Discovered,
		FilesDone:  out.Discovered,
	})
	e.logger.Debug().
		Int("discovered", out.Discovered).
		Int("added", out.Added).
		Int("updated", out.Updated).
		Int("removed", out.Removed).
		Int("failed", out.Failed).
		Msg("full scan")
	return out
}

// syncFiles reconciles one provider's files with bounded fan-out.
func (e *Engine) syncFiles(
	ctx context.Context,
	p parser.Provider,
	files []parser.DiscoveredFile,
	stats *passStats,
) {
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	var done atomic.Int64
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stats.record(e.process(ctx, request{provider: p, path: f.Path}))
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	e.progress(Progress{
		Phase:      PhaseSyncing,
		Provider:   p,
		FilesTotal: len(files),
		FilesDone:  int(done.Load()),
	})
}

// sweep revisits indexed files under scanned roots that discovery
// did not return. Files excluded by the discovery options are
// dropped; the rest are reconciled, which removes them when they
// no longer exist and keeps them on I/O failure.
func (e *Engine) sweep(
	ctx context.Context,
	scanned []watchRoot,
	seen map[string]bool,
	stats *passStats,
) {
	for _, path := range e.store.Paths() {
		if ctx.Err() != nil {
			return
		}
		if seen[pathkey.Canonical(path)] {
			continue
		}
		wr, ok := ownerOf(scanned, path)
		if !ok {
			continue
		}
		if !wr.def().Match(wr.root.Path, path, e.opts.Discover) {
			stats.record(e.remove(path))
			continue
		}
		stats.record(e.process(ctx, request{provider: wr.provider, path: path}))
	}
}

// SyncPaths reconciles specific files. Paths outside every root
// are reconciled only if already indexed.
func (e *Engine) SyncPaths(ctx context.Context, paths []string) SyncStats {
	var stats passStats
	reqs := e.requests(paths, &stats)
	e.runBatches(ctx, reqs, &stats)
	e.finishPass()
	return stats.snapshot()
}

func (e *Engine) requests(paths []string, stats *passStats) []request {
	seen := make(map[string]bool, len(paths))
	reqs := make([]request, 0, len(paths))
	for _, path := range paths {
		key := pathkey.Canonical(path)
		if seen[key] {
			continue
		}
		seen[key] = true
		if wr, ok := e.classify(path); ok {
			reqs = append(reqs, request{provider: wr.provider, path: path})
			continue
		}
		if s, ok := e.store.Summary(path); ok {
			reqs = append(reqs, request{provider: s.Provider, path: s.Path})
			continue
		}
		e.tracker.undebounce(key)
		stats.record(result{outcome: outcomeSkipped})
	}
	return reqs
}

// runBatches reconciles reqs BatchConcurrency at a time, checking
// for cancellation and delivering pending adds between batches.
func (e *Engine) runBatches(
	ctx context.Context, reqs []request, stats *passStats,
) {
	n := e.opts.BatchConcurrency
	for start := 0; start < len(reqs); start += n {
		if ctx.Err() != nil {
			for _, r := range reqs[start:] {
				e.tracker.undebounce(pathkey.Canonical(r.path))
			}
			return
		}
		var g errgroup.Group
		for _, r := range reqs[start:min(start+n, len(reqs))] {
			g.Go(func() error {
				stats.record(e.process(ctx, r))
				return nil
			})
		}
		_ = g.Wait()
		e.adds.flush()
	}
}

// flushQueue is the debounce queue's sink.
func (e *Engine) flushQueue(paths []string) {
	stats := e.SyncPaths(e.context(), paths)
	e.logger.Debug().
		Int("paths", len(paths)).
		Int("parsed", stats.Parsed).
		Int("removed", stats.Removed).
		Msg("debounced batch reconciled")
}

// enqueue schedules a debounced reconcile of path.
func (e *Engine) enqueue(path string) {
	e.tracker.debounced(pathkey.Canonical(path))
	e.queue.add(path)
}

// onWatchEvents routes settled fsnotify paths into the queue. A
// path that matches no provider layout and no longer exists may be
// a removed directory; indexed files beneath it are requeued so
// their removal is noticed.
func (e *Engine) onWatchEvents(paths []string) {
	for _, path := range paths {
		if _, ok := e.classify(path); ok {
			e.enqueue(path)
			continue
		}
		if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		for _, indexed := range e.store.Paths() {
			if isUnder(path, indexed) {
				e.enqueue(indexed)
			}
		}
	}
}

// process runs reconciles of one path until no rerun is pending.
// A request for a path already being reconciled only sets the
// rerun flag.
func (e *Engine) process(ctx context.Context, r request) result {
	key := pathkey.Canonical(r.path)
	if !e.tracker.begin(key, r.force) {
		e.diag.For(r.path).Debug().Msg("reconcile in flight, rerun requested")
		return result{outcome: outcomeSkipped}
	}
	force := r.force
	for {
		res := e.reconcile(ctx, r.provider, r.path, force)
		again, f := e.tracker.finish(key)
		if !again {
			return res
		}
		force = f
	}
}

// reconcile brings the index entry of path in line with the file.
// Unless force is set an unchanged signature short-circuits the
// parse.
func (e *Engine) reconcile(
	ctx context.Context, p parser.Provider, path string, force bool,
) result {
	if ctx.Err() != nil {
		return result{outcome: outcomeSkipped}
	}
	diag := e.diag.For(path)

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return e.remove(path)
		}
		e.counters.ioFailures.Add(1)
		diag.Debug().Err(err).Msg("stat failed, keeping entry")
		return result{outcome: outcomeFailed}
	}
	if fi.IsDir() {
		return result{outcome: outcomeSkipped}
	}
	sig := index.SignatureOf(fi)
	if !force && !e.store.Diff(path, sig) {
		e.counters.unchanged.Add(1)
		return result{outcome: outcomeUnchanged}
	}

	d, err := parser.ParserFor(p).Parse(path, sig.FileStat(), e.parseOptions(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return e.remove(path)
		}
		e.counters.ioFailures.Add(1)
		diag.Debug().Err(err).Msg("read failed, keeping entry")
		return result{outcome: outcomeFailed}
	}
	e.counters.parses.Add(1)
	diag.Debug().
		Str("provider", string(p)).
		Int64("size", sig.Size).
		Int64("mtimeMs", sig.MtimeMs).
		Bool("forced", force).
		Str("cwd", d.Cwd).
		Int("skippedLines", d.SkippedLines).
		Bool("truncated", d.Truncated).
		Msg("parsed")

	e.resolveCwd(p, &d)
	return result{outcome: e.commit(sig, d), parsed: true}
}

// resolveCwd feeds a known working directory to the project index,
// or groups the session by its file location and arms a retry.
func (e *Engine) resolveCwd(p parser.Provider, d *parser.Details) {
	key := pathkey.Canonical(d.Path)
	if d.Cwd != "" {
		if p != parser.ProviderGemini {
			e.projects.Add(d.Cwd)
		}
		e.tracker.resolved(key)
		return
	}

	d.DirKey = pathkey.DirKey(parser.FallbackDirKeySource(p, d.Path))
	path := d.Path
	attempt, exhausted := e.tracker.armRetry(key, e.sched, func() {
		e.retry(p, path)
	})
	switch {
	case attempt > 0:
		e.counters.retries.Add(1)
		e.diag.For(path).Debug().
			Int("attempt", attempt).
			Dur("delay", retryDelays[attempt-1]).
			Msg("cwd unresolved, retry armed")
	case exhausted:
		e.counters.exhausted.Add(1)
		e.logger.Debug().
			Str("path", path).
			Str("dirKey", d.DirKey).
			Msg("cwd never resolved, keeping file-location grouping")
	}
}

// retry is the callback of a retry timer: a forced reparse.
func (e *Engine) retry(p parser.Provider, path string) {
	e.process(e.context(), request{provider: p, path: path, force: true})
	e.finishPass()
}

// commit persists d and emits the matching delta.
func (e *Engine) commit(sig index.Signature, d parser.Details) outcome {
	prev, _ := e.store.Summary(d.Path)
	added := e.store.Put(sig, d)
	e.cache.Remove(d.Path)
	if added {
		e.counters.added.Add(1)
		e.adds.add(d.Summary)
		return outcomeAdded
	}
	if sameSummary(prev, d.Summary) {
		return outcomeUnchanged
	}
	e.counters.updated.Add(1)
	e.notifier.SessionUpdated(d.Summary)
	return outcomeUpdated
}

func sameSummary(a, b parser.Summary) bool {
	if !a.Date.Equal(b.Date) {
		return false
	}
	a.Date, b.Date = time.Time{}, time.Time{}
	return a == b
}

// remove drops path from the index and cache.
func (e *Engine) remove(path string) result {
	e.tracker.forget(pathkey.Canonical(path))
	e.cache.Remove(path)
	s, ok := e.store.Remove(path)
	if !ok {
		return result{outcome: outcomeSkipped}
	}
	e.counters.removed.Add(1)
	e.notifier.SessionRemoved(s.Path)
	e.diag.For(path).Debug().Msg("removed")
	return result{outcome: outcomeRemoved}
}

// finishPass delivers pending adds and flushes the index. Flush
// failures are logged by the store and retried on the next pass.
func (e *Engine) finishPass() {
	e.adds.flush()
	_ = e.store.Flush()
}

func (e *Engine) parseOptions(summaryOnly bool) parser.Options {
	return parser.Options{
		SummaryOnly:  summaryOnly,
		MaxLines:     e.opts.MaxLines,
		MaxLineBytes: e.opts.MaxLineBytes,
		MaxBytes:     e.opts.MaxBytes,
		Projects:     e.projects,
	}
}

func (e *Engine) progress(p Progress) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
}

// ListSummaries returns every indexed summary, newest first.
func (e *Engine) ListSummaries() []parser.Summary {
	return e.store.Summaries()
}

// ReadDetails returns the full conversation of path. A cached copy
// is used while the file signature matches; otherwise the file is
// parsed in the foreground and cached. When the file cannot be
// read the stored details without message bodies are returned
// instead, if any. A read that finds the index stale queues a
// reconcile.
func (e *Engine) ReadDetails(
	ctx context.Context, path string,
) (parser.Details, error) {
	if err := ctx.Err(); err != nil {
		return parser.Details{}, err
	}

	p, ok := e.providerOf(path)
	if !ok {
		return parser.Details{}, fmt.Errorf("%s: %w", path, ErrNotSession)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return e.storedDetails(path, err)
	}
	sig := index.SignatureOf(fi)
	if d, ok := e.cache.Get(path, sig); ok {
		return d, nil
	}

	d, err := parser.ParserFor(p).Parse(path, sig.FileStat(), e.parseOptions(false))
	if err != nil {
		return e.storedDetails(path, err)
	}
	if d.Cwd == "" {
		d.DirKey = pathkey.DirKey(parser.FallbackDirKeySource(p, path))
	}
	e.cache.Add(sig, d)
	if e.store.Diff(path, sig) {
		e.enqueue(path)
	}
	return d, nil
}

func (e *Engine) providerOf(path string) (parser.Provider, bool) {
	if s, ok := e.store.Summary(path); ok {
		return s.Provider, true
	}
	if wr, ok := e.classify(path); ok {
		return wr.provider, true
	}
	return "", false
}

// storedDetails is the ReadDetails fallback when path cannot be
// read. A vanished file is queued so its entry gets removed.
func (e *Engine) storedDetails(
	path string, readErr error,
) (parser.Details, error) {
	if errors.Is(readErr, fs.ErrNotExist) {
		e.enqueue(path)
	}
	if d, ok := e.store.Details(path); ok {
		e.logger.Debug().Err(readErr).Str("path", path).
			Msg("serving stored details")
		return d, nil
	}
	return parser.Details{}, fmt.Errorf("reading %s: %w", path, readErr)
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Indexed:          e.store.Len(),
		Cached:           e.cache.Len(),
		Queued:           e.queue.len(),
		PendingRetries:   e.tracker.pendingRetries(),
		Projects:         e.projects.Len(),
		Parses:           e.counters.parses.Load(),
		Unchanged:        e.counters.unchanged.Load(),
		IOFailures:       e.counters.ioFailures.Load(),
		Retries:          e.counters.retries.Load(),
		RetriesExhausted: e.counters.exhausted.Load(),
		Added:            e.counters.added.Load(),
		Updated:          e.counters.updated.Load(),
		Removed:          e.counters.removed.Load(),
	}
}
