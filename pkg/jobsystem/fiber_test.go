package jobsystem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiberPoolLazyStart(t *testing.T) {
	started := make(chan int, 4)
	pool := newFiberPool(nil, nil, 4, func(f *fiber) {
		started <- f.id
		f.yield()
	})
	defer pool.close()

	assert.Equal(t, 4, pool.freeCount())
	assert.Equal(t, 0, pool.startedCount())

	f := pool.get()
	assert.Equal(t, fiberRunning, f.state)
	assert.Equal(t, 3, pool.freeCount())
	assert.Equal(t, 1, pool.startedCount())

	select {
	case id := <-started:
		assert.Equal(t, f.id, id)
	case <-time.After(time.Second):
		t.Fatal("fiber goroutine did not start")
	}

	// A returned fiber keeps its goroutine.
	pool.put(f)
	assert.Equal(t, fiberFree, f.state)
	again := pool.get()
	assert.Same(t, f, again)
	assert.Equal(t, 1, pool.startedCount())
}

func TestFiberPoolExhaustion(t *testing.T) {
	pool := newFiberPool(nil, nil, 2, func(f *fiber) { f.yield() })
	defer pool.close()

	pool.get()
	pool.get()
	assert.PanicsWithError(t, ErrFiberPoolExhausted.Error(), func() {
		pool.get()
	})
}

func TestFiberSwitchHandsOverWorker(t *testing.T) {
	got := make(chan *worker, 1)
	pool := newFiberPool(nil, nil, 2, func(f *fiber) {
		f.yield()
		got <- f.worker
		f.yield()
	})
	defer pool.close()

	w := newWorker(5)
	f := pool.get()
	f.resume <- w

	select {
	case rw := <-got:
		assert.Same(t, w, rw)
	case <-time.After(time.Second):
		t.Fatal("fiber was not resumed")
	}
}

func TestFiberContextLookup(t *testing.T) {
	s := New(Options{})
	pool := newFiberPool(s, nil, 1, func(f *fiber) {})

	f := pool.fibers[0]
	require.Same(t, f, fiberFromContext(f.ctx, s))
	assert.Nil(t, fiberFromContext(f.ctx, New(Options{})), "fiber of another scheduler")
	assert.Nil(t, fiberFromContext(context.Background(), s))
}

func TestFiberStateString(t *testing.T) {
	assert.Equal(t, "free", fiberFree.String())
	assert.Equal(t, "running", fiberRunning.String())
	assert.Equal(t, "parked", fiberParked.String())
	assert.Equal(t, "ready", fiberReady.String())
}
