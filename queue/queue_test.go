package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-allocpool/errs"
	"github.com/joeycumines/go-allocpool/task"
)

func never() bool { return false }

func runOneNoShutdown(t *testing.T, q *Queue) PopResult {
	t.Helper()
	return q.PopAndExecute(never)
}

func TestQueue_FIFOOrdering(t *testing.T) {
	q := New(0)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Submit(task.New(func() { order = append(order, i) }, nil)))
	}
	for i := 0; i < 5; i++ {
		runOneNoShutdown(t, q)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_BackpressureBlocksProducerUntilConsumed(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Submit(task.New(func() {}, nil)))
	require.NoError(t, q.Submit(task.New(func() {}, nil)))

	submitted := make(chan struct{})
	go func() {
		_ = q.Submit(task.New(func() {}, nil))
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("third submit should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	runOneNoShutdown(t, q) // drain one, freeing capacity

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("third submit never unblocked after a slot freed")
	}
}

func TestQueue_PopAndExecuteWaitsThenRunsTask(t *testing.T) {
	q := New(0)
	ran := make(chan struct{})

	done := make(chan PopResult)
	go func() { done <- q.PopAndExecute(never) }()

	time.Sleep(20 * time.Millisecond) // let PopAndExecute start waiting
	require.NoError(t, q.Submit(task.New(func() { close(ran) }, nil)))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, TaskExecuted, <-done)
}

func TestQueue_PopAndExecuteObservesShutdownWhenEmpty(t *testing.T) {
	q := New(0)
	assert.Equal(t, Shutdown, q.PopAndExecute(func() bool { return true }))
}

func TestQueue_WaitEmptyBlocksUntilActiveAndQueuedBothZero(t *testing.T) {
	q := New(0)
	var counter int64
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, q.Submit(task.New(func() { atomic.AddInt64(&counter, 1) }, nil)))
	}

	var wg sync.WaitGroup
	var shutdown atomic.Bool
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if q.PopAndExecute(shutdown.Load) == Shutdown {
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		q.WaitEmpty()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitEmpty never returned")
	}
	assert.EqualValues(t, n, atomic.LoadInt64(&counter))

	shutdown.Store(true)
	q.mu.Lock()
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	wg.Wait()
}

func TestQueue_DestroyRunsCleanupForUnrunTasks(t *testing.T) {
	q := New(0)
	var cleaned []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, q.Submit(task.New(func() { t.Fatal("fn must not run for a drained task") }, func() {
			cleaned = append(cleaned, i)
		})))
	}

	q.Destroy()
	assert.Equal(t, []int{0, 1, 2}, cleaned)
	assert.Zero(t, q.Count())

	err := q.Submit(task.New(func() {}, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrWrongState)
}

func TestQueue_VerifyDetectsNothingOnHealthyQueue(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Submit(task.New(func() {}, nil)))
	require.NoError(t, q.Verify())
}

func TestQueue_CountSnapshot(t *testing.T) {
	q := New(0)
	assert.Zero(t, q.Count())
	require.NoError(t, q.Submit(task.New(func() {}, nil)))
	assert.Equal(t, 1, q.Count())
}
