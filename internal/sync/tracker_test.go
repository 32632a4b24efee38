package sync

import (
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRerunWhileParsing(t *testing.T) {
	tr := newTracker()

	require.True(t, tr.begin("/a", false))
	assert.Equal(t, stateParsing, tr.state("/a"))

	// Requests during the pass fold into one rerun.
	assert.False(t, tr.begin("/a", false))
	assert.False(t, tr.begin("/a", true))

	again, force := tr.finish("/a")
	assert.True(t, again)
	assert.True(t, force)
	assert.Equal(t, stateParsing, tr.state("/a"))

	again, _ = tr.finish("/a")
	assert.False(t, again)
	assert.Equal(t, stateIdle, tr.state("/a"))
	assert.Empty(t, tr.entries)
}

func TestTrackerDebounced(t *testing.T) {
	tr := newTracker()
	tr.debounced("/a")
	assert.Equal(t, stateDebounced, tr.state("/a"))
	require.True(t, tr.begin("/a", false))
	tr.finish("/a")
	assert.Equal(t, stateIdle, tr.state("/a"))
}

func TestTrackerUndebounce(t *testing.T) {
	tr := newTracker()
	tr.debounced("/a")
	tr.undebounce("/a")
	assert.Equal(t, stateIdle, tr.state("/a"))
	assert.Empty(t, tr.entries)

	// A pending retry survives the dropped request.
	sched := newFakeScheduler()
	tr.armRetry("/b", sched, func() {})
	tr.debounced("/b")
	assert.Equal(t, stateDebounced, tr.state("/b"))
	tr.undebounce("/b")
	assert.Equal(t, stateRetryScheduled, tr.state("/b"))

	// Parsing keys are left alone.
	require.True(t, tr.begin("/c", false))
	tr.undebounce("/c")
	assert.Equal(t, stateParsing, tr.state("/c"))
}

func TestTrackerRetryBudget(t *testing.T) {
	sched := newFakeScheduler()
	tr := newTracker()
	fired := 0
	fire := func() { fired++ }

	for want := 1; want <= len(retryDelays); want++ {
		attempt, exhausted := tr.armRetry("/a", sched, fire)
		require.Equal(t, want, attempt)
		require.False(t, exhausted)

		// A second arm while one is pending is a no-op.
		attempt, _ = tr.armRetry("/a", sched, fire)
		assert.Zero(t, attempt)
		assert.Equal(t, 1, tr.pendingRetries())

		sched.Advance(retryDelays[want-1])
		assert.Equal(t, want, fired)
	}

	attempt, exhausted := tr.armRetry("/a", sched, fire)
	assert.Zero(t, attempt)
	assert.True(t, exhausted)

	attempt, exhausted = tr.armRetry("/a", sched, fire)
	assert.Zero(t, attempt)
	assert.False(t, exhausted, "exhaustion is reported once")
	assert.Zero(t, tr.pendingRetries())
}

func TestTrackerFinishKeepsRetryScheduled(t *testing.T) {
	sched := newFakeScheduler()
	tr := newTracker()
	require.True(t, tr.begin("/a", false))
	tr.armRetry("/a", sched, func() {})
	tr.finish("/a")
	assert.Equal(t, stateRetryScheduled, tr.state("/a"))
	assert.Equal(t, "retry-scheduled", tr.state("/a").String())
}

func TestTrackerResolvedResetsBudget(t *testing.T) {
	sched := newFakeScheduler()
	tr := newTracker()
	tr.armRetry("/a", sched, func() { t.Fatal("stopped retry fired") })
	tr.resolved("/a")
	assert.Zero(t, tr.pendingRetries())
	sched.Advance(retryDelays[0])

	attempt, _ := tr.armRetry("/a", sched, func() {})
	assert.Equal(t, 1, attempt)
}

func TestTrackerForgetAndStopAll(t *testing.T) {
	sched := newFakeScheduler()
	tr := newTracker()
	tr.armRetry("/a", sched, func() { t.Fatal("forgotten retry fired") })
	tr.armRetry("/b", sched, func() { t.Fatal("stopped retry fired") })

	tr.forget("/a")
	assert.Equal(t, 1, tr.pendingRetries())
	tr.stopAll()
	assert.Zero(t, tr.pendingRetries())
	assert.Zero(t, sched.pending())
	sched.Advance(time.Minute)
}
