// ============================================================================
// fiberjobs Scheduler - Run / Wait / Trigger
// ============================================================================
//
// Package: pkg/jobsystem
// File: scheduler.go
// Purpose: Public job API composing counters, fibers, queues and workers
//
// Lifecycle:
//   1. New(opts)          - build the scheduler context object
//   2. Initialize(n)      - start n workers, allocate fiber pool and counters
//   3. Run/RunOn/RunAfter - submit jobs, fanning into a JobHandle
//   4. Wait(ctx, h)       - block cooperatively until h reaches zero
//   5. Uninitialize()     - stop workers, drop queued jobs, release fibers
//
// Locking:
//   sync     - counters, waiter lists, fiber pool, worker current fiber
//   queue mu - run queues, paired with one condition variable per worker
//   The two are never held at the same time.
//
// Failure Model:
//   - Counter or fiber exhaustion panics (fixed capacity, not retried)
//   - A panic inside a job body is not recovered and ends the process
//   - Stale handles read as complete; submitting into one allocates fresh
//
// ============================================================================

package jobsystem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

const (
	// DefaultFiberCount 預設 fiber 池容量，也是同時停駐於 Wait 的上限
	DefaultFiberCount = 512
	// DefaultCounterCount 預設完成計數器數量，即同時存活的 JobHandle 上限
	DefaultCounterCount = 4096
	// DefaultWaitPollInterval 非 fiber 呼叫 Wait 時的輪詢間隔
	DefaultWaitPollInterval = time.Millisecond
)

// JobFunc is a job body. ctx identifies the fiber running the job; pass it
// to Wait and CurrentWorker. It is never cancelled.
//
// ctx must only be used by the goroutine the body runs on. Handing it to a
// goroutine the job starts and calling Wait there makes that goroutine act
// as the fiber and corrupts worker ownership. Such goroutines should wait
// with context.Background() instead, which sleep-polls.
type JobFunc func(ctx context.Context, data any)

type job struct {
	fn       JobFunc
	data     any
	affinity types.WorkerID
	handle   types.JobHandle
}

// Options configures a Scheduler. Zero fields take the defaults.
type Options struct {
	FiberCount       int
	CounterCount     int
	WaitPollInterval time.Duration
	Logger           *logrus.Entry
	Observer         Observer
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	Workers         int
	FiberCapacity   int
	FreeFibers      int
	StartedFibers   int
	ParkedFibers    int
	ReadyFibers     int
	CounterCapacity int
	LiveCounters    int
	QueuedJobs      int
	JobsExecuted    []uint64 // per worker
	CurrentFibers   []int    // per worker, id of the fiber it is running
}

// engine is the state of one Initialize/Uninitialize bracket.
type engine struct {
	counters *counterTable
	fibers   *fiberPool
	queues   *runQueues
	workers  []*worker
	wg       sync.WaitGroup
}

// lane maps an affinity to a run queue index; -1 is the global lane.
func (e *engine) lane(affinity types.WorkerID) int {
	if affinity < 0 {
		return -1
	}
	return int(affinity) % len(e.workers)
}

// Scheduler multiplexes fibers over a fixed set of workers.
type Scheduler struct {
	opts     Options
	log      *logrus.Entry
	observer Observer

	lifecycle sync.Mutex // serializes Initialize and Uninitialize

	sync sync.Mutex
	eng  *engine // nil while not initialized
}

// New creates a scheduler. It starts nothing until Initialize.
func New(opts Options) *Scheduler {
	if opts.FiberCount <= 0 {
		opts.FiberCount = DefaultFiberCount
	}
	if opts.CounterCount <= 0 {
		opts.CounterCount = DefaultCounterCount
	}
	if opts.WaitPollInterval <= 0 {
		opts.WaitPollInterval = DefaultWaitPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Scheduler{
		opts:     opts,
		log:      opts.Logger.WithField("component", "jobsystem"),
		observer: opts.Observer,
	}
}

// Initialize starts up to workerCount workers, capped at types.MaxWorkers.
func (s *Scheduler) Initialize(workerCount int) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.sync.Lock()
	running := s.eng != nil
	s.sync.Unlock()
	if running {
		return ErrAlreadyInitialized
	}

	n := min(workerCount, types.MaxWorkers)
	if n < 1 {
		return ErrNoWorkers
	}
	if s.opts.FiberCount < n {
		return fmt.Errorf("%w: %d fibers for %d workers", ErrFiberPoolTooSmall, s.opts.FiberCount, n)
	}

	e := &engine{
		counters: newCounterTable(s.opts.CounterCount),
		queues:   newRunQueues(n),
		workers:  make([]*worker, n),
	}
	e.fibers = newFiberPool(s, e, s.opts.FiberCount, s.fiberMain)

	// Each worker takes its first fiber here so the free list is settled
	// before Initialize returns.
	s.sync.Lock()
	firsts := make([]*fiber, n)
	for i := range e.workers {
		w := newWorker(i)
		firsts[i] = e.fibers.get()
		w.current = firsts[i]
		e.workers[i] = w
	}
	s.sync.Unlock()

	for i, w := range e.workers {
		e.wg.Add(1)
		go func(w *worker, f *fiber) {
			defer e.wg.Done()
			s.runWorker(w, f)
		}(w, firsts[i])
	}

	s.sync.Lock()
	s.eng = e
	s.sync.Unlock()

	s.log.WithFields(logrus.Fields{
		"workers":  n,
		"fibers":   s.opts.FiberCount,
		"counters": s.opts.CounterCount,
	}).Info("job system initialized")
	return nil
}

// Uninitialize stops all workers and waits for them to exit. Jobs that have
// not started are dropped; jobs already running finish their body first.
// Calling it on a stopped scheduler is a no-op.
//
// It must not be called from a job body: it waits for every worker,
// including the one running the caller, and never returns. A job that
// needs to stop the scheduler starts a goroutine that calls Uninitialize
// and then returns.
func (s *Scheduler) Uninitialize() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.sync.Lock()
	e := s.eng
	s.eng = nil
	s.sync.Unlock()
	if e == nil {
		return
	}

	queued, ready := e.queues.pending()
	e.queues.shutdown()
	e.wg.Wait()

	s.sync.Lock()
	e.fibers.close()
	s.sync.Unlock()

	s.log.WithFields(logrus.Fields{
		"dropped_jobs":   queued,
		"dropped_fibers": ready,
	}).Info("job system stopped")
}

// Run submits fn to any worker. If handle is non-nil the job is counted
// under *handle, which is allocated (and written back) when it is invalid
// or already complete.
func (s *Scheduler) Run(fn JobFunc, data any, handle *types.JobHandle) error {
	return s.submit(job{fn: fn, data: data, affinity: types.AnyWorker}, handle, types.JobHandle{})
}

// RunOn submits fn to a specific worker. The index wraps modulo the worker
// count; types.AnyWorker behaves like Run.
func (s *Scheduler) RunOn(worker types.WorkerID, fn JobFunc, data any, handle *types.JobHandle) error {
	return s.submit(job{fn: fn, data: data, affinity: worker}, handle, types.JobHandle{})
}

// RunAfter submits fn once precondition has reached zero. The job counts
// toward *handle immediately, so waiting on handle also covers the wait for
// precondition.
func (s *Scheduler) RunAfter(precondition types.JobHandle, worker types.WorkerID, fn JobFunc, data any, handle *types.JobHandle) error {
	return s.submit(job{fn: fn, data: data, affinity: worker}, handle, precondition)
}

func (s *Scheduler) submit(j job, handle *types.JobHandle, precondition types.JobHandle) error {
	if j.fn == nil {
		panic("jobsystem: nil job function")
	}
	if j.affinity < 0 {
		j.affinity = types.AnyWorker
	}

	s.sync.Lock()
	e := s.eng
	if e == nil {
		s.sync.Unlock()
		return ErrNotInitialized
	}
	if j.affinity != types.AnyWorker {
		j.affinity = types.WorkerID(e.lane(j.affinity))
	}

	if handle != nil && precondition.IsValid() && precondition == *handle {
		s.sync.Unlock()
		panic("jobsystem: job cannot wait on its own finish handle")
	}

	if handle != nil {
		if !e.counters.incrementIfLive(*handle) {
			*handle = s.allocateLocked(e)
		}
		j.handle = *handle
	}

	deferred := precondition.IsValid() && e.counters.addDeferred(precondition, j)
	s.sync.Unlock()

	if !deferred {
		e.queues.pushJob(e.lane(j.affinity), j)
	}
	return nil
}

func (s *Scheduler) allocateLocked(e *engine) types.JobHandle {
	if e.counters.live() == e.counters.capacity() {
		s.sync.Unlock()
		s.log.WithField("capacity", e.counters.capacity()).Error("counter table exhausted")
		panic(ErrCounterTableExhausted)
	}
	return e.counters.allocate()
}

func (s *Scheduler) takeFiberLocked(e *engine) *fiber {
	if e.fibers.freeCount() == 0 {
		s.sync.Unlock()
		s.log.WithField("capacity", e.fibers.capacity()).Error("fiber pool exhausted")
		panic(ErrFiberPoolExhausted)
	}
	return e.fibers.get()
}

// Wait returns once every job counted under h has finished.
//
// From inside a job (ctx is the job's context) the calling fiber parks and
// its worker keeps running other work. From any other goroutine Wait
// sleep-polls; it also returns if the scheduler is stopped meanwhile.
// ctx cancellation is not observed.
//
// Only the goroutine running the job may pass the job's ctx. Wait panics
// if it sees that ctx while its fiber is already parked.
func (s *Scheduler) Wait(ctx context.Context, h types.JobHandle) {
	if !h.IsValid() {
		return
	}

	f := fiberFromContext(ctx, s)
	if f == nil {
		s.pollWait(h)
		return
	}

	e := f.eng
	s.sync.Lock()
	if f.state != fiberRunning {
		state := f.state
		s.sync.Unlock()
		panic(fmt.Sprintf("jobsystem: Wait with the context of a %s fiber", state))
	}
	if e.counters.isZero(h) {
		s.sync.Unlock()
		return
	}

	w := f.worker
	e.counters.addWaiter(h, &waiter{fiber: f, affinity: f.job.affinity})
	f.state = fiberParked
	next := s.takeFiberLocked(e)
	w.current = next
	s.sync.Unlock()

	start := time.Now()
	f.switchTo(next, w)
	s.observer.FiberWaited(time.Since(start))
}

func (s *Scheduler) pollWait(h types.JobHandle) {
	s.sync.Lock()
	e := s.eng
	for e != nil && s.eng == e && !e.counters.isZero(h) {
		s.sync.Unlock()
		time.Sleep(s.opts.WaitPollInterval)
		s.sync.Lock()
	}
	s.sync.Unlock()
}

// IsDone reports whether h has reached zero without blocking.
func (s *Scheduler) IsDone(h types.JobHandle) bool {
	s.sync.Lock()
	defer s.sync.Unlock()
	return s.eng == nil || s.eng.counters.isZero(h)
}

// CurrentWorker returns the worker running the job that owns ctx. ok is
// false when ctx does not belong to a job of this scheduler.
func (s *Scheduler) CurrentWorker(ctx context.Context) (id types.WorkerID, ok bool) {
	f := fiberFromContext(ctx, s)
	if f == nil || f.worker == nil {
		return types.AnyWorker, false
	}
	return f.worker.id(), true
}

// Stats returns a snapshot. The zero Stats is returned when not initialized.
func (s *Scheduler) Stats() Stats {
	s.sync.Lock()
	e := s.eng
	if e == nil {
		s.sync.Unlock()
		return Stats{}
	}
	st := Stats{
		Workers:         len(e.workers),
		FiberCapacity:   e.fibers.capacity(),
		FreeFibers:      e.fibers.freeCount(),
		StartedFibers:   e.fibers.startedCount(),
		ParkedFibers:    e.fibers.count(fiberParked),
		ReadyFibers:     e.fibers.count(fiberReady),
		CounterCapacity: e.counters.capacity(),
		LiveCounters:    e.counters.live(),
		JobsExecuted:    make([]uint64, len(e.workers)),
		CurrentFibers:   make([]int, len(e.workers)),
	}
	for i, w := range e.workers {
		st.CurrentFibers[i] = w.current.id
	}
	s.sync.Unlock()

	st.QueuedJobs, _ = e.queues.pending()
	for i, w := range e.workers {
		st.JobsExecuted[i] = w.executed.Load()
	}
	return st
}
