package jobsystem

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// lane holds resumable fibers and pending jobs for one scope: a single
// worker, or the global "any worker" scope.
type lane struct {
	ready *linkedlistqueue.Queue // *fiber
	jobs  *linkedlistqueue.Queue // job
}

func newLane() lane {
	return lane{ready: linkedlistqueue.New(), jobs: linkedlistqueue.New()}
}

type sleeper struct {
	cond     *sync.Cond
	sleeping bool
}

// runQueues are the per-worker private lanes plus the global lane, all under
// one mutex. Each worker sleeps on its own condition variable so a push can
// wake exactly the worker that should take it.
type runQueues struct {
	mu       sync.Mutex
	global   lane
	local    []lane
	sleepers []sleeper
	closed   bool
}

func newRunQueues(workers int) *runQueues {
	q := &runQueues{
		global:   newLane(),
		local:    make([]lane, workers),
		sleepers: make([]sleeper, workers),
	}
	for i := range q.local {
		q.local[i] = newLane()
		q.sleepers[i].cond = sync.NewCond(&q.mu)
	}
	return q
}

// pop blocks until worker idx has something to do. Priority, highest first:
// its own ready fibers, its own jobs, global ready fibers, global jobs. ok is
// false once the queues are shut down.
func (q *runQueues) pop(idx int) (f *fiber, j job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed {
		if v, found := q.local[idx].ready.Dequeue(); found {
			return v.(*fiber), job{}, true
		}
		if v, found := q.local[idx].jobs.Dequeue(); found {
			return nil, v.(job), true
		}
		if v, found := q.global.ready.Dequeue(); found {
			return v.(*fiber), job{}, true
		}
		if v, found := q.global.jobs.Dequeue(); found {
			return nil, v.(job), true
		}

		s := &q.sleepers[idx]
		s.sleeping = true
		s.cond.Wait()
		s.sleeping = false
	}
	return nil, job{}, false
}

// pushJob queues j on worker idx, or globally when idx is negative. Pushes
// after shutdown are dropped.
func (q *runQueues) pushJob(idx int, j job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if idx >= 0 {
		q.local[idx].jobs.Enqueue(j)
		q.wakeLocked(idx)
		return
	}
	q.global.jobs.Enqueue(j)
	q.wakeAnyLocked()
}

// pushReady queues a woken fiber on worker idx, or globally when idx is negative.
func (q *runQueues) pushReady(idx int, f *fiber) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if idx >= 0 {
		q.local[idx].ready.Enqueue(f)
		q.wakeLocked(idx)
		return
	}
	q.global.ready.Enqueue(f)
	q.wakeAnyLocked()
}

func (q *runQueues) wakeLocked(idx int) {
	s := &q.sleepers[idx]
	if s.sleeping {
		s.sleeping = false
		s.cond.Signal()
	}
}

// wakeAnyLocked wakes one sleeping worker. Workers that are awake always
// re-check the global lane before sleeping, so nobody needs waking when all
// are busy.
func (q *runQueues) wakeAnyLocked() {
	for i := range q.sleepers {
		if q.sleepers[i].sleeping {
			q.wakeLocked(i)
			return
		}
	}
}

// shutdown drops everything still queued and wakes every worker.
func (q *runQueues) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.global.ready.Clear()
	q.global.jobs.Clear()
	for i := range q.local {
		q.local[i].ready.Clear()
		q.local[i].jobs.Clear()
		q.sleepers[i].sleeping = false
		q.sleepers[i].cond.Broadcast()
	}
}

// pending returns the number of queued jobs and ready fibers.
func (q *runQueues) pending() (jobs, ready int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, ready = q.global.jobs.Size(), q.global.ready.Size()
	for i := range q.local {
		jobs += q.local[i].jobs.Size()
		ready += q.local[i].ready.Size()
	}
	return jobs, ready
}
