package jobsystem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQueuesPopPriority(t *testing.T) {
	q := newRunQueues(2)

	localReady, globalReady := &fiber{id: 1}, &fiber{id: 2}
	q.pushJob(-1, job{data: "global-job"})
	q.pushReady(-1, globalReady)
	q.pushJob(0, job{data: "local-job"})
	q.pushReady(0, localReady)

	f, _, ok := q.pop(0)
	require.True(t, ok)
	assert.Same(t, localReady, f)

	f, j, ok := q.pop(0)
	require.True(t, ok)
	assert.Nil(t, f)
	assert.Equal(t, "local-job", j.data)

	f, _, ok = q.pop(0)
	require.True(t, ok)
	assert.Same(t, globalReady, f)

	f, j, ok = q.pop(0)
	require.True(t, ok)
	assert.Nil(t, f)
	assert.Equal(t, "global-job", j.data)
}

func TestRunQueuesLocalIsPrivate(t *testing.T) {
	q := newRunQueues(2)
	q.pushJob(1, job{data: "for-1"})
	q.pushJob(-1, job{data: "any"})

	_, j, ok := q.pop(0)
	require.True(t, ok)
	assert.Equal(t, "any", j.data, "worker 0 must not take worker 1's job")

	_, j, ok = q.pop(1)
	require.True(t, ok)
	assert.Equal(t, "for-1", j.data)
}

func TestRunQueuesFIFO(t *testing.T) {
	q := newRunQueues(1)
	for i := 0; i < 5; i++ {
		q.pushJob(-1, job{data: i})
	}
	for i := 0; i < 5; i++ {
		_, j, ok := q.pop(0)
		require.True(t, ok)
		assert.Equal(t, i, j.data)
	}
}

func TestRunQueuesWakesSleeper(t *testing.T) {
	q := newRunQueues(2)
	got := make(chan job, 1)

	go func() {
		_, j, ok := q.pop(1)
		if ok {
			got <- j
		}
	}()

	// Give the popper a moment to go to sleep; the push must wake it either way.
	time.Sleep(10 * time.Millisecond)
	q.pushJob(1, job{data: "wake"})

	select {
	case j := <-got:
		assert.Equal(t, "wake", j.data)
	case <-time.After(time.Second):
		t.Fatal("sleeping worker was not woken")
	}
}

func TestRunQueuesShutdown(t *testing.T) {
	q := newRunQueues(3)
	q.pushJob(-1, job{data: "dropped"})
	q.pushJob(2, job{data: "dropped"})

	done := make(chan bool, 2)
	for _, idx := range []int{0, 1} {
		go func(idx int) {
			// Drain whatever is visible, then block until shutdown.
			for {
				if _, _, ok := q.pop(idx); !ok {
					done <- true
					return
				}
			}
		}(idx)
	}

	time.Sleep(10 * time.Millisecond)
	q.shutdown()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker did not observe shutdown")
		}
	}

	jobs, ready := q.pending()
	assert.Equal(t, 0, jobs)
	assert.Equal(t, 0, ready)

	q.pushJob(-1, job{data: "late"})
	jobs, _ = q.pending()
	assert.Equal(t, 0, jobs, "pushes after shutdown are dropped")

	_, _, ok := q.pop(2)
	assert.False(t, ok)
}

func TestRunQueuesPending(t *testing.T) {
	q := newRunQueues(2)
	q.pushJob(-1, job{})
	q.pushJob(0, job{})
	q.pushJob(1, job{})
	q.pushReady(1, &fiber{})

	jobs, ready := q.pending()
	assert.Equal(t, 3, jobs)
	assert.Equal(t, 1, ready)
}

// drainGlobal pushes n jobs onto the global lane and pops them all.
func drainGlobal(n int) time.Duration {
	q := newRunQueues(1)
	for i := 0; i < n; i++ {
		q.pushJob(-1, job{data: i})
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		q.pop(0)
	}
	return time.Since(start)
}

func fastestDrain(n, runs int) time.Duration {
	best := drainGlobal(n)
	for i := 1; i < runs; i++ {
		best = min(best, drainGlobal(n))
	}
	return best
}

func TestRunQueuesDrainScalesLinearly(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	small := fastestDrain(50_000, 3)
	large := fastestDrain(200_000, 3)

	// 4x the input; a per-pop shift of the backing slice would be ~16x.
	ratio := float64(large) / float64(max(small, time.Microsecond))
	assert.Less(t, ratio, 10.0, "drain 50k=%s 200k=%s", small, large)
	assert.Less(t, large, 2*time.Second)
}

func BenchmarkRunQueuesDrain(b *testing.B) {
	q := newRunQueues(1)
	for i := 0; i < b.N; i++ {
		q.pushJob(-1, job{})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.pop(0)
	}
}
