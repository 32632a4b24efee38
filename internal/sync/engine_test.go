package sync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/sessionwatch/internal/index"
	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
	"github.com/wesm/sessionwatch/internal/testjsonl"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, os.ErrInvalid)
}

func TestSyncAllIndexesEveryProvider(t *testing.T) {
	env := newTestEnv(t)
	codex := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "fix the build"))
	claude := env.writeClaude(t, "-home-u-api", "s1.jsonl",
		claudeLog("s1", "/home/u/api", "add an endpoint"))
	hash := parser.ProjectHash("/home/u/proj")
	gemini := env.writeGemini(t, hash, "session-2025-01-15T10-00-g1.json",
		testjsonl.GeminiSessionJSON("g1", hash, tsEarly, tsEarlyS5,
			[]map[string]any{testjsonl.GeminiUserMsg("m1", tsEarly, "explain the diff")}))

	stats := env.engine.SyncAll(context.Background())

	assert.Equal(t, 3, stats.Discovered)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 3, stats.Parsed)
	assert.Equal(t, 0, stats.Failed)

	byPath := make(map[string]parser.Summary)
	for _, s := range env.engine.ListSummaries() {
		byPath[s.Path] = s
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, "/home/u/proj", byPath[codex].DirKey)
	assert.Equal(t, "fix the build", byPath[codex].Preview)
	assert.Equal(t, "/home/u/api", byPath[claude].DirKey)
	assert.Equal(t, "s1", byPath[claude].ResumeID)

	// Resolved through the cwd observed in the Codex log.
	assert.Equal(t, "/home/u/proj", byPath[gemini].Cwd)
	assert.Equal(t, "explain the diff", byPath[gemini].Preview)

	assert.Len(t, env.notes.batches(), 1)
	assert.Len(t, env.notes.added(), 3)
	assert.Equal(t, int64(1), env.backend.writes.Load())
	assert.Zero(t, env.engine.Stats().PendingRetries)
}

func TestSyncAllIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "one"))
	env.writeClaude(t, "-home-u-api", "s1.jsonl", claudeLog("s1", "/home/u/api", "two"))

	first := env.engine.SyncAll(context.Background())
	require.Equal(t, 2, first.Added)
	writes := env.backend.writes.Load()
	deltas := env.notes.total()

	second := env.engine.SyncAll(context.Background())

	assert.Equal(t, 2, second.Unchanged)
	assert.Zero(t, second.Parsed)
	assert.False(t, second.Changed())
	assert.Equal(t, writes, env.backend.writes.Load(), "unchanged scan wrote the index")
	assert.Equal(t, deltas, env.notes.total(), "unchanged scan emitted deltas")
}

func TestSyncAllDetectsUpdates(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "first prompt"))
	env.engine.SyncAll(context.Background())

	touch(t, path, codexLog("c1", "/home/u/proj", "second prompt"), time.Minute)
	stats := env.engine.SyncAll(context.Background())

	assert.Equal(t, 1, stats.Updated)
	updates := env.notes.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "second prompt", updates[0].Preview)
}

func TestSyncAllReparseWithoutSummaryChange(t *testing.T) {
	env := newTestEnv(t)
	content := codexLog("c1", "/home/u/proj", "same")
	path := env.writeCodex(t, "c1", content)
	env.engine.SyncAll(context.Background())

	// Same content, new mtime: reparsed but nothing to report.
	touch(t, path, content, time.Minute)
	stats := env.engine.SyncAll(context.Background())

	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Empty(t, env.notes.updates())
}

func TestSyncAllRemovesVanishedFiles(t *testing.T) {
	env := newTestEnv(t)
	keep := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "keep"))
	gone := env.writeCodex(t, "c2", codexLog("c2", "/home/u/proj", "gone"))
	env.engine.SyncAll(context.Background())

	require.NoError(t, os.Remove(gone))
	stats := env.engine.SyncAll(context.Background())

	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, []string{gone}, env.notes.removals())
	_, ok := env.store.Summary(gone)
	assert.False(t, ok)
	_, ok = env.store.Summary(keep)
	assert.True(t, ok)
}

func TestSyncAllKeepsEntriesOfMissingRoot(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "offline"))
	env.engine.SyncAll(context.Background())

	// Simulate an unmounted share.
	require.NoError(t, os.Rename(env.codexDir, env.codexDir+".off"))
	stats := env.engine.SyncAll(context.Background())

	assert.Zero(t, stats.Removed)
	assert.Empty(t, env.notes.removals())
	_, ok := env.store.Summary(path)
	assert.True(t, ok)
}

func TestSyncAllDropsFilesExcludedByOptions(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Discover.IncludeAgentHistory = true
	})
	env.writeClaude(t, "-home-u-api", "s1.jsonl", claudeLog("s1", "/home/u/api", "main"))
	agent := env.writeClaude(t, "-home-u-api", "agent-a1.jsonl",
		claudeLog("s1", "/home/u/api", "sub task"))
	require.Equal(t, 2, env.engine.SyncAll(context.Background()).Added)
	require.NoError(t, env.engine.Stop())

	// A second engine over the same index with agent history off.
	fb, err := index.NewFileBackend(env.dataDir)
	require.NoError(t, err)
	notes := &recordingNotifier{}
	e, err := New(Options{
		Store:     index.NewStore(fb, zerolog.Nop()),
		Notifier:  notes,
		Logger:    zerolog.Nop(),
		Scheduler: newFakeScheduler(),
		Roots: map[parser.Provider][]parser.ProjectRoot{
			parser.ProviderClaude: localRoot(env.claudeDir),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	e.Load()
	require.Equal(t, 2, e.Stats().Indexed)

	stats := e.SyncAll(context.Background())

	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Equal(t, []string{agent}, notes.removals())
}

func TestEndToEndDirKeyAndSkippedLines(t *testing.T) {
	env := newTestEnv(t)
	valid := env.writeCodex(t, "c1", codexLog("c1", "/mnt/c/proj", "hello"))
	var b strings.Builder
	for i := range 5 {
		fmt.Fprintf(&b, "garbage line %d {{{\n", i)
	}
	b.WriteString(testjsonl.ClaudeUserWithSessionIDJSON(
		"the only good line", tsEarly, "s9", "/mnt/c/proj") + "\n")
	noisy := env.writeClaude(t, "-mnt-c-proj", "s9.jsonl", b.String())

	env.engine.SyncAll(context.Background())

	s, ok := env.store.Summary(valid)
	require.True(t, ok)
	assert.Equal(t, pathkey.DirKey("/mnt/c/proj"), s.DirKey)

	d, err := env.engine.ReadDetails(context.Background(), noisy)
	require.NoError(t, err)
	assert.Equal(t, 5, d.SkippedLines)
	assert.Equal(t, "/mnt/c/proj", d.DirKey)
	assert.Equal(t, 1, d.MessageCount)
}

func TestRetryExhaustion(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "", "no cwd yet"))

	env.engine.SyncAll(context.Background())
	require.Equal(t, int64(1), env.engine.Stats().Parses)
	require.Equal(t, 1, env.engine.Stats().PendingRetries)

	s, ok := env.store.Summary(path)
	require.True(t, ok)
	assert.Equal(t, pathkey.DirKey(filepath.Dir(path)), s.DirKey)

	for i, d := range retryDelays {
		env.sched.Advance(d)
		assert.Equal(t, int64(i+2), env.engine.Stats().Parses, "after retry %d", i+1)
	}
	env.sched.Advance(time.Hour)

	st := env.engine.Stats()
	assert.Equal(t, int64(4), st.Parses)
	assert.Equal(t, int64(3), st.Retries)
	assert.Equal(t, int64(1), st.RetriesExhausted)
	assert.Zero(t, st.PendingRetries)
	assert.Zero(t, env.sched.pending())

	// An unchanged file stays settled on later scans.
	env.engine.SyncAll(context.Background())
	assert.Equal(t, int64(4), env.engine.Stats().Parses)
}

func TestRetryPicksUpLateCwd(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "", "header only"))
	env.engine.SyncAll(context.Background())
	require.Equal(t, 1, env.engine.Stats().PendingRetries)

	touch(t, path, codexLog("c1", "/home/u/late", "header only"), time.Minute)
	env.sched.Advance(retryDelays[0])

	updates := env.notes.updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "/home/u/late", updates[0].Cwd)
	assert.Equal(t, "/home/u/late", updates[0].DirKey)
	assert.Zero(t, env.engine.Stats().PendingRetries)

	env.sched.Advance(time.Hour)
	assert.Equal(t, int64(2), env.engine.Stats().Parses)
}

func TestGeminiRetryResolvesAfterProjectSeen(t *testing.T) {
	env := newTestEnv(t)
	hash := parser.ProjectHash("/home/u/web")
	gemini := env.writeGemini(t, hash, "session-g1.json",
		testjsonl.GeminiSessionJSON("g1", hash, tsEarly, tsEarlyS5,
			[]map[string]any{testjsonl.GeminiUserMsg("m1", tsEarly, "hi")}))
	env.engine.SyncAll(context.Background())

	s, _ := env.store.Summary(gemini)
	assert.Empty(t, s.Cwd)
	assert.Equal(t, pathkey.DirKey(filepath.Join(env.geminiDir, "tmp", hash)), s.DirKey)

	// A Codex session in the same project shows up before the retry.
	codex := env.writeCodex(t, "c1", codexLog("c1", "/home/u/web", "hello"))
	env.engine.SyncPaths(context.Background(), []string{codex})
	env.sched.Advance(retryDelays[0])

	s, _ = env.store.Summary(gemini)
	assert.Equal(t, "/home/u/web", s.Cwd)
	assert.Equal(t, "/home/u/web", s.DirKey)
}

func TestWatchEventsAreDebounced(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "v1"))
	env.engine.SyncAll(context.Background())
	parses := env.engine.Stats().Parses

	touch(t, path, codexLog("c1", "/home/u/proj", "v2"), time.Minute)
	for range 3 {
		env.engine.onWatchEvents([]string{path})
		env.sched.Advance(DefaultDebounce / 4)
	}
	assert.Equal(t, 1, env.engine.Stats().Queued)
	assert.Equal(t, parses, env.engine.Stats().Parses)

	env.sched.Advance(DefaultDebounce)

	assert.Zero(t, env.engine.Stats().Queued)
	assert.Equal(t, parses+1, env.engine.Stats().Parses)
	require.Len(t, env.notes.updates(), 1)
	assert.Equal(t, "v2", env.notes.updates()[0].Preview)
}

func TestWatchEventForRemovedDirectory(t *testing.T) {
	env := newTestEnv(t)
	a := env.writeClaude(t, "-home-u-api", "a.jsonl", claudeLog("a", "/home/u/api", "a"))
	b := env.writeClaude(t, "-home-u-api", "b.jsonl", claudeLog("b", "/home/u/api", "b"))
	env.engine.SyncAll(context.Background())

	projDir := filepath.Dir(a)
	require.NoError(t, os.RemoveAll(projDir))
	env.engine.onWatchEvents([]string{projDir})
	env.sched.Advance(DefaultDebounce)

	assert.ElementsMatch(t, []string{a, b}, env.notes.removals())
	assert.Zero(t, env.engine.Stats().Indexed)
}

func TestWatchEventIgnoresForeignFiles(t *testing.T) {
	env := newTestEnv(t)
	other := testjsonl.WriteFile(t, env.codexDir, "notes.txt", "x")
	env.engine.onWatchEvents([]string{other})
	assert.Zero(t, env.engine.Stats().Queued)
}

func TestAddsAreBatched(t *testing.T) {
	env := newTestEnv(t)
	const n = 120
	for i := range n {
		id := fmt.Sprintf("s%03d", i)
		env.writeClaude(t, "-home-u-api", id+".jsonl", claudeLog(id, "/home/u/api", id))
	}

	env.engine.SyncAll(context.Background())

	batches := env.notes.batches()
	total := 0
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), maxAddBatch)
		total += len(b)
	}
	assert.Equal(t, n, total)
	assert.Len(t, batches, 3)
}

func TestSyncPathsSkipsUnknownPaths(t *testing.T) {
	env := newTestEnv(t)
	stats := env.engine.SyncPaths(context.Background(),
		[]string{filepath.Join(t.TempDir(), "random.jsonl")})
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, env.engine.Stats().Parses)
}

func TestSyncPathsHonorsCancellation(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "x"))
	env.engine.tracker.debounced(pathkey.Canonical(path))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env.engine.SyncPaths(ctx, []string{path})

	assert.Zero(t, env.engine.Stats().Indexed)
	assert.Empty(t, env.engine.tracker.entries, "dropped request leaves no state")
}

func TestSkippedQueuedPathReturnsToIdle(t *testing.T) {
	env := newTestEnv(t)
	foreign := filepath.Join(t.TempDir(), "random.jsonl")
	env.engine.enqueue(foreign)
	key := pathkey.Canonical(foreign)
	assert.Equal(t, stateDebounced, env.engine.tracker.state(key))

	env.sched.Advance(DefaultDebounce)

	assert.Zero(t, env.engine.Stats().Queued)
	assert.Equal(t, stateIdle, env.engine.tracker.state(key))
	assert.Empty(t, env.engine.tracker.entries)
}

func TestReadDetails(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "show me"))
	env.engine.SyncAll(context.Background())

	d, err := env.engine.ReadDetails(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, d.Messages, 2)
	assert.Equal(t, parser.RoleUser, d.Messages[0].Role)
	assert.Equal(t, 1, env.engine.Stats().Cached)
	parses := env.engine.Stats().Parses

	again, err := env.engine.ReadDetails(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, d.Messages, again.Messages)
	assert.Zero(t, env.engine.Stats().Queued)
	assert.Equal(t, parses, env.engine.Stats().Parses)
}

func TestReadDetailsQueuesStaleIndex(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "old"))
	env.engine.SyncAll(context.Background())

	touch(t, path, codexLog("c1", "/home/u/proj", "new"), time.Minute)
	d, err := env.engine.ReadDetails(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "new", d.Preview)
	assert.Equal(t, 1, env.engine.Stats().Queued)

	env.sched.Advance(DefaultDebounce)
	s, _ := env.store.Summary(path)
	assert.Equal(t, "new", s.Preview)
}

func TestReadDetailsFallsBackToStoredDetails(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeCodex(t, "c1", codexLog("c1", "/home/u/proj", "bye"))
	env.engine.SyncAll(context.Background())
	require.NoError(t, os.Remove(path))

	d, err := env.engine.ReadDetails(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "bye", d.Preview)
	assert.Empty(t, d.Messages)

	env.sched.Advance(DefaultDebounce)
	assert.Equal(t, []string{path}, env.notes.removals())

	_, err = env.engine.ReadDetails(context.Background(), path)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadDetailsUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ReadDetails(context.Background(), "/nowhere/x.jsonl")
	require.ErrorIs(t, err, ErrNotSession)
}

func TestStartTwice(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Start(context.Background()))
	require.ErrorIs(t, env.engine.Start(context.Background()), ErrStarted)
}

func TestStopClearsTimers(t *testing.T) {
	env := newTestEnv(t)
	a := env.writeCodex(t, "c1", codexLog("c1", "", "pending"))
	b := env.writeCodex(t, "c2", codexLog("c2", "/home/u/proj", "queued"))
	env.engine.SyncAll(context.Background())
	touch(t, b, codexLog("c2", "/home/u/proj", "queued again"), time.Minute)
	env.engine.onWatchEvents([]string{a, b})
	require.NotZero(t, env.sched.pending())

	require.NoError(t, env.engine.Stop())
	require.NoError(t, env.engine.Stop())

	assert.Zero(t, env.sched.pending())
	parses := env.engine.Stats().Parses
	env.sched.Advance(time.Hour)
	assert.Equal(t, parses, env.engine.Stats().Parses)
	assert.False(t, env.store.Dirty())
}

func TestLoadSeedsProjects(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.KnownProjects = []string{"/home/u/known"}
	})
	testjsonl.WriteFile(t, env.geminiDir, "projects.json",
		`{"projects":{"/home/u/aliased":"aliased"}}`)
	env.writeCodex(t, "c1", codexLog("c1", "/home/u/seen", "x"))
	env.engine.SyncAll(context.Background())
	require.NoError(t, env.engine.Stop())

	fb, err := index.NewFileBackend(env.dataDir)
	require.NoError(t, err)
	projects := parser.NewProjectIndex()
	e, err := New(Options{
		Store:         index.NewStore(fb, zerolog.Nop()),
		Logger:        zerolog.Nop(),
		Scheduler:     newFakeScheduler(),
		Projects:      projects,
		KnownProjects: []string{"/home/u/known"},
		Roots: map[parser.Provider][]parser.ProjectRoot{
			parser.ProviderGemini: localRoot(env.geminiDir),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	e.Load()

	for _, p := range []string{"/home/u/known", "/home/u/seen"} {
		got, ok := projects.Resolve(parser.ProjectHash(p))
		assert.True(t, ok, p)
		assert.Equal(t, p, got)
	}
	got, ok := projects.Resolve("aliased")
	assert.True(t, ok)
	assert.Equal(t, "/home/u/aliased", got)
}
