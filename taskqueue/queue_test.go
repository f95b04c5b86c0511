package taskqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_RunsInSubmissionOrder(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		q.Enqueue(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueue_NoOverlap(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		q.Enqueue(func() {
			defer wg.Done()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Equal(t, 1, maxActive)
}

func TestQueue_CancelPendingDropsOnlyUnstarted(t *testing.T) {
	q := New()
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	q.Enqueue(func() {
		close(started)
		<-release
		close(done)
	})

	var ran atomic.Bool
	q.Enqueue(func() {
		ran.Store(true)
	})

	<-started
	require.Equal(t, 1, q.Pending())

	q.CancelPending()
	require.Zero(t, q.Pending())

	// The running task completes normally.
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("running task did not complete")
	}

	// Give the worker a moment; the dropped task must never run.
	time.Sleep(10 * time.Millisecond)
	require.False(t, ran.Load())
}

func TestQueue_PendingExcludesRunning(t *testing.T) {
	q := New()
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(func() {
		close(started)
		<-release
	})
	<-started

	require.Zero(t, q.Pending())

	done := make(chan struct{})
	q.Enqueue(func() { close(done) })
	require.Equal(t, 1, q.Pending())

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued task did not run")
	}
	require.Zero(t, q.Pending())
}
