package sync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher uses fsnotify to watch local log directories. Events are
// held until the path has been quiet for the settle period, then
// handed to onChange. Removals and renames are reported too so the
// index can drop vanished files.
type Watcher struct {
	onChange func(paths []string)
	watcher  *fsnotify.Watcher
	settle   time.Duration
	logger   zerolog.Logger
	pending  map[string]time.Time
	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher creates a file watcher that calls onChange once
// changed paths have settled.
func NewWatcher(
	settle time.Duration,
	logger zerolog.Logger,
	onChange func(paths []string),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		onChange: onChange,
		watcher:  fsw,
		settle:   settle,
		logger:   logger,
		pending:  make(map[string]time.Time),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	return w, nil
}

// WatchRecursive walks a directory tree and adds all
// subdirectories to the watch list. Returns the number
// of directories watched and unwatched (failed to add).
func (w *Watcher) WatchRecursive(root string) (watched int, unwatched int, err error) {
	err = filepath.WalkDir(root,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip inaccessible dirs
			}
			if d.IsDir() {
				if addErr := w.watcher.Add(path); addErr != nil {
					unwatched++
				} else {
					watched++
				}
			}
			return nil
		})
	return watched, unwatched, err
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish. Pending
// events are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// tick is the flush interval: half the settle period so a path is
// reported at most 1.5 settle periods after its last event.
func (w *Watcher) tick() time.Duration {
	if d := w.settle / 2; d > 0 {
		return d
	}
	return 10 * time.Millisecond
}

const watchedOps = fsnotify.Write | fsnotify.Create |
	fsnotify.Remove | fsnotify.Rename

// handleEvent processes a single fsnotify event, auto-watching
// newly created directories and recording pending changes.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&watchedOps == 0 {
		return
	}

	now := w.now()
	var found []string
	if event.Op&fsnotify.Create != 0 {
		found = w.watchIfDir(event.Name)
	}

	w.mu.Lock()
	w.pending[event.Name] = now
	for _, p := range found {
		w.pending[p] = now
	}
	w.mu.Unlock()
}

// watchIfDir watches a new directory tree and returns the files
// already inside it. Nested date directories are often created in
// one call, and files written before the watch was added would
// otherwise be missed.
func (w *Watcher) watchIfDir(path string) []string {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	var files []string
	_ = filepath.WalkDir(path,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				_ = w.watcher.Add(p)
				return nil
			}
			files = append(files, p)
			return nil
		})
	return files
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}

	now := w.now()
	var ready []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.settle {
			ready = append(ready, path)
		}
	}

	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if len(ready) > 0 {
		w.logger.Debug().Int("files", len(ready)).
			Msg("watcher: paths settled")
		w.onChange(ready)
	}
}
