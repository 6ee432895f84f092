package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// P1: 4 workers, queue_size 100, 50 counter-incrementing tasks behind a
// mutex; wait_all observes counter == 50; destroy succeeds.
func TestPool_SubmitManyThenWaitAll(t *testing.T) {
	p, err := Create(Config{NumThreads: 4, QueueSize: 100})
	require.NoError(t, err)

	var mu sync.Mutex
	counter := 0
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			counter++
			mu.Unlock()
		}, nil))
	}

	p.WaitAll()
	mu.Lock()
	got := counter
	mu.Unlock()
	assert.Equal(t, 50, got)

	require.NoError(t, p.Destroy())
}

// P2: 2 workers, queue_size 5, 7 tasks that each sleep; the later submits
// block the producer until the consumers drain; all 7 eventually complete.
func TestPool_BackpressureDrainsAllTasks(t *testing.T) {
	p, err := Create(Config{NumThreads: 2, QueueSize: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	var counter int64
	const n = 7
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&counter, 1)
		}, nil))
	}

	p.WaitAll()
	assert.EqualValues(t, n, atomic.LoadInt64(&counter))
}

// P3: resize a 4-worker pool to 2 while long-running tasks are in flight;
// all tasks still complete; NumThreads() == 2 afterward.
func TestPool_ResizeWhileTasksInFlight(t *testing.T) {
	p, err := Create(Config{NumThreads: 4, QueueSize: 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	var completed int64
	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
		}, nil))
	}

	require.NoError(t, p.Resize(2))
	assert.Equal(t, 2, p.NumThreads())

	p.WaitAll()
	assert.EqualValues(t, n, atomic.LoadInt64(&completed))
}

// P4: 1000 short tasks against an 8-worker pool; verify queue invariants
// hold after wait_all.
func TestPool_HighThroughputVerifiesClean(t *testing.T) {
	p, err := Create(Config{NumThreads: 8, QueueSize: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	var completed int64
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&completed, 1)
		}, nil))
	}

	p.WaitAll()
	assert.EqualValues(t, n, atomic.LoadInt64(&completed))
	require.NoError(t, p.Verify())
}

func TestPool_SubmitAfterDestroyFails(t *testing.T) {
	p, err := Create(Config{NumThreads: 1, QueueSize: 0})
	require.NoError(t, err)
	require.NoError(t, p.Destroy())

	err = p.Submit(func() {}, nil)
	require.Error(t, err)
	assert.Equal(t, Stopped, p.State())
}

func TestPool_DestroyRunsCleanupForQueuedTasks(t *testing.T) {
	p, err := Create(Config{NumThreads: 1, QueueSize: 0})
	require.NoError(t, err)

	var mu sync.Mutex
	cleanedUp := false
	started := make(chan struct{})
	block := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-block
	}, nil))
	<-started // the single worker is now busy; further submits queue up

	require.NoError(t, p.Submit(func() {}, func() {
		mu.Lock()
		cleanedUp = true
		mu.Unlock()
	}))

	close(block)
	require.NoError(t, p.Destroy())

	// the second task may have run and completed normally, or been drained
	// unrun by Destroy; either way its cleanup must have fired exactly once.
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, cleanedUp)
}

func TestPool_ShutdownIsGracefulDrainThenDestroy(t *testing.T) {
	p, err := Create(Config{NumThreads: 2, QueueSize: 10})
	require.NoError(t, err)

	var completed int64
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func() { atomic.AddInt64(&completed, 1) }, nil))
	}

	require.NoError(t, p.Shutdown())
	assert.EqualValues(t, 20, atomic.LoadInt64(&completed))
	assert.Equal(t, Stopped, p.State())
}

func TestPool_CreateRejectsNonPositiveThreads(t *testing.T) {
	_, err := Create(Config{NumThreads: 0})
	require.Error(t, err)
}

func TestPool_SnapshotReflectsStateAndCounters(t *testing.T) {
	p, err := Create(Config{NumThreads: 2, QueueSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() {}, nil))
	}
	p.WaitAll()

	snap := p.Snapshot()
	assert.Equal(t, Running, snap.State)
	assert.Equal(t, 2, snap.NumThreads)
	assert.EqualValues(t, 5, snap.TotalEnqueued)
	assert.EqualValues(t, 5, snap.TotalProcessed)
	assert.Zero(t, snap.ActiveTasks)
	assert.Zero(t, snap.Queued)

	var buf bytes.Buffer
	p.Dump(&buf)
	assert.Contains(t, buf.String(), "state=RUNNING")
}

func TestPool_GrowAddsWorkers(t *testing.T) {
	p, err := Create(Config{NumThreads: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	require.NoError(t, p.Grow(3))
	assert.Equal(t, 5, p.NumThreads())
}
