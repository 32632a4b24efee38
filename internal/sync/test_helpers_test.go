package sync

import (
	"os"
	"path/filepath"
	"sort"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/testjsonl"
)

// Timestamp constants for test data.
const (
	tsEarly   = "2025-01-15T10:00:00Z"
	tsEarlyS1 = "2025-01-15T10:00:01Z"
	tsEarlyS5 = "2025-01-15T10:00:05Z"
	tsLate    = "2025-01-16T09:00:00Z"
)

// --- Scheduler ---

// fakeScheduler runs timers only when Advance moves its clock past
// their due time. Callbacks run on the caller's goroutine.
type fakeScheduler struct {
	mu     gosync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	s    *fakeScheduler
	seq  int
	due  time.Time
	f    func()
	done bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTimer{s: s, seq: s.seq, due: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves the clock forward by d, firing due timers in due
// order. Timers armed by callbacks fire too if they fall due
// within the window.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		next := s.nextLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		if next.due.After(s.now) {
			s.now = next.due
		}
		next.done = true
		s.mu.Unlock()
		next.f()
	}
}

func (s *fakeScheduler) nextLocked(limit time.Time) *fakeTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if !s.timers[i].due.Equal(s.timers[j].due) {
			return s.timers[i].due.Before(s.timers[j].due)
		}
		return s.timers[i].seq < s.timers[j].seq
	})
	if len(s.timers) == 0 || s.timers[0].due.After(limit) {
		return nil
	}
	return s.timers[0]
}

// pending counts armed timers.
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// --- Notifier ---

type recordingNotifier struct {
	mu         gosync.Mutex
	addBatches [][]parser.Summary
	updated    []parser.Summary
	removed    []string
}

func (n *recordingNotifier) SessionsAdded(s []parser.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addBatches = append(n.addBatches, append([]parser.Summary(nil), s...))
}

func (n *recordingNotifier) SessionUpdated(s parser.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, s)
}

func (n *recordingNotifier) SessionRemoved(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, path)
}

func (n *recordingNotifier) added() []parser.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []parser.Summary
	for _, b := range n.addBatches {
		out = append(out, b...)
	}
	return out
}

func (n *recordingNotifier) batches() [][]parser.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]parser.Summary(nil), n.addBatches...)
}

func (n *recordingNotifier) updates() []parser.Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]parser.Summary(nil), n.updated...)
}

func (n *recordingNotifier) removals() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.removed...)
}

// total counts every delta delivered.
func (n *recordingNotifier) total() int {
	return len(n.added()) + len(n.updates()) + len(n.removals())
}

// --- Backend ---

// countingBackend counts document writes.
type countingBackend struct {
	index.Backend
	writes atomic.Int64
}

func (b *countingBackend) Write(docs ...index.Document) error {
	b.writes.Add(1)
	return b.Backend.Write(docs...)
}

// --- Environment ---

type testEnv struct {
	codexDir  string
	claudeDir string
	geminiDir string
	dataDir   string

	backend *countingBackend
	store   *index.Store
	sched   *fakeScheduler
	notes   *recordingNotifier
	engine  *Engine
}

func localRoot(path string) []parser.ProjectRoot {
	return []parser.ProjectRoot{{Path: path, Exists: true, Source: parser.SourceLocal}}
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		codexDir:  filepath.Join(root, "codex", "sessions"),
		claudeDir: filepath.Join(root, "claude", "projects"),
		geminiDir: filepath.Join(root, "gemini"),
		dataDir:   filepath.Join(root, "data"),
		sched:     newFakeScheduler(),
		notes:     &recordingNotifier{},
	}
	fb, err := index.NewFileBackend(env.dataDir)
	require.NoError(t, err)
	env.backend = &countingBackend{Backend: fb}
	env.store = index.NewStore(env.backend, zerolog.Nop())

	opts := Options{
		Store:     env.store,
		Notifier:  env.notes,
		Logger:    zerolog.Nop(),
		Scheduler: env.sched,
		Roots: map[parser.Provider][]parser.ProjectRoot{
			parser.ProviderCodex:  localRoot(env.codexDir),
			parser.ProviderClaude: localRoot(env.claudeDir),
			parser.ProviderGemini: localRoot(env.geminiDir),
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	env.engine = e
	return env
}

// codexRolloutName builds a rollout file name for id.
func codexRolloutName(id string) string {
	return "rollout-2025-01-15T10-00-00-" + id + ".jsonl"
}

// writeCodex writes a rollout under the 2025/01/15 day bucket.
func (env *testEnv) writeCodex(t *testing.T, id, content string) string {
	t.Helper()
	return testjsonl.WriteFile(t, env.codexDir,
		"2025/01/15/"+codexRolloutName(id), content)
}

// codexLog returns a minimal rollout with one user message.
func codexLog(id, cwd, prompt string) string {
	return testjsonl.NewSessionBuilder().
		AddCodexMeta(id, cwd, "0.40.0", tsEarly).
		AddCodexMessage("user", prompt, tsEarlyS1).
		AddCodexMessage("assistant", "ok", tsEarlyS5).
		String()
}

func (env *testEnv) writeClaude(
	t *testing.T, project, name, content string,
) string {
	t.Helper()
	return testjsonl.WriteFile(t, env.claudeDir, project+"/"+name, content)
}

func claudeLog(sessionID, cwd, prompt string) string {
	return testjsonl.NewSessionBuilder().
		AddClaudeUser(prompt, tsEarly, sessionID, cwd).
		AddClaudeAssistant("done", tsEarlyS1).
		String()
}

func (env *testEnv) writeGemini(
	t *testing.T, hash, name, content string,
) string {
	t.Helper()
	return testjsonl.WriteFile(t, env.geminiDir,
		"tmp/"+hash+"/chats/"+name, content)
}

// touch rewrites path with content and moves its mtime forward so
// the signature changes even on coarse-grained filesystems.
func touch(t *testing.T, path, content string, offset time.Duration) {
	t.Helper()
	testjsonl.WriteFile(t, filepath.Dir(path), filepath.Base(path), content)
	mt := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, mt, mt))
}
