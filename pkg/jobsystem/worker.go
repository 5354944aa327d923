// ============================================================================
// fiberjobs Worker - scheduling loop
// ============================================================================
//
// Package: pkg/jobsystem
// File: worker.go
// Purpose: One worker per logical core, each multiplexing many fibers
//
// Execution Model:
//   ┌────────────────────────────────────────────────┐
//   │  Worker (primary fiber)                        │
//   │    hand worker to first fiber, wait for exit   │
//   │                                                │
//   │  Fiber                                         │
//   │  ┌──────────────────────────────────────────┐  │
//   │  │ for pop(worker):                         │  │
//   │  │   ready fiber → put self on free list,   │  │
//   │  │                 switch to it             │  │
//   │  │   job         → run body, trigger handle │  │
//   │  └──────────────────────────────────────────┘  │
//   └────────────────────────────────────────────────┘
//
// A fiber that parks in Wait hands its worker to a free fiber, which runs
// this same loop. When the parked fiber is resumed it continues inside the
// job body, possibly on another worker, and returns to the loop afterwards.
//
// Shutdown:
//   The queues close, the current fiber of each worker leaves the loop and
//   signals the primary fiber, which returns. Fibers still parked or free
//   are released when the pool is closed.
//
// ============================================================================

package jobsystem

import (
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

type worker struct {
	index    int
	current  *fiber // guarded by Scheduler.sync
	executed atomic.Uint64
	exited   chan struct{}
}

func newWorker(index int) *worker {
	return &worker{index: index, exited: make(chan struct{})}
}

func (w *worker) id() types.WorkerID { return types.WorkerID(w.index) }

// runWorker is the worker's primary fiber.
func (s *Scheduler) runWorker(w *worker, first *fiber) {
	first.resume <- w
	<-w.exited
}

// fiberMain is the body of every fiber goroutine.
func (s *Scheduler) fiberMain(f *fiber) {
	f.yield()
	s.schedule(f)
}

func (s *Scheduler) schedule(f *fiber) {
	e := f.eng
	for {
		w := f.worker
		ready, j, ok := e.queues.pop(w.index)
		if !ok {
			break
		}

		if ready != nil {
			s.sync.Lock()
			e.fibers.put(f)
			ready.state = fiberRunning
			w.current = ready
			s.sync.Unlock()

			f.switchTo(ready, w)
			continue
		}

		s.execute(f, j)
	}

	// Back to the primary fiber. Nothing resumes f after this; it stays
	// blocked until the pool closes its channel.
	close(f.worker.exited)
	f.yield()
}

func (s *Scheduler) execute(f *fiber, j job) {
	s.observer.JobStarted(f.worker.id())
	start := time.Now()

	f.job = j
	j.fn(f.ctx, j.data)
	f.job = job{}

	// f may have moved to another worker while parked in Wait.
	w := f.worker
	w.executed.Add(1)
	s.observer.JobFinished(w.id(), time.Since(start))

	if j.handle.IsValid() {
		s.trigger(f.eng, j.handle)
	}
}

// trigger retires one job from h. When h reaches zero its waiters move to
// the ready queue matching their affinity and its deferred jobs are queued.
func (s *Scheduler) trigger(e *engine, h types.JobHandle) {
	s.sync.Lock()
	waiters, deferred := e.counters.decrement(h)
	for wt := waiters; wt != nil; wt = wt.next {
		wt.fiber.state = fiberReady
	}
	s.sync.Unlock()

	for wt := waiters; wt != nil; {
		next := wt.next
		e.queues.pushReady(e.lane(wt.affinity), wt.fiber)
		wt = next
	}
	for _, dj := range deferred {
		e.queues.pushJob(e.lane(dj.affinity), dj)
	}
}
