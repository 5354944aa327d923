package jobsystem

import (
	"context"
	"runtime"
)

type fiberState int

const (
	fiberFree fiberState = iota
	fiberRunning
	fiberParked
	fiberReady
)

func (s fiberState) String() string {
	switch s {
	case fiberFree:
		return "free"
	case fiberRunning:
		return "running"
	case fiberParked:
		return "parked"
	case fiberReady:
		return "ready"
	default:
		return "unknown"
	}
}

type fiberKey struct{}

// fiber is a stackful execution context backed by a goroutine. The goroutine
// only runs while it owns a worker; ownership arrives on resume, and a fiber
// gives it up by handing the worker to another fiber and blocking on resume
// again. resume has one slot so the hand-off never blocks the giver, even
// when the receiver has not reached its receive yet.
type fiber struct {
	id     int
	owner  *Scheduler
	eng    *engine
	ctx    context.Context
	resume chan *worker

	// guarded by Scheduler.sync
	started bool
	state   fiberState

	// written only by the fiber's own goroutine
	job    job
	worker *worker
}

// switchTo hands w to next and suspends f until some worker resumes it.
func (f *fiber) switchTo(next *fiber, w *worker) {
	next.resume <- w
	f.yield()
}

// yield blocks until f is handed a worker. A closed resume channel means the
// pool was torn down; the goroutine exits without returning to its caller.
func (f *fiber) yield() {
	w, ok := <-f.resume
	if !ok {
		runtime.Goexit()
	}
	f.worker = w
}

// fiberFromContext returns the fiber of s that ctx was issued to, if any.
func fiberFromContext(ctx context.Context, s *Scheduler) *fiber {
	if ctx == nil {
		return nil
	}
	f, ok := ctx.Value(fiberKey{}).(*fiber)
	if !ok || f.owner != s {
		return nil
	}
	return f
}

// fiberPool is a fixed set of reusable fibers with a LIFO free list.
// Goroutines are started on first use and kept until close. Not safe for
// concurrent use; callers hold Scheduler.sync.
type fiberPool struct {
	fibers []*fiber
	free   []*fiber
	run    func(*fiber)
}

func newFiberPool(owner *Scheduler, eng *engine, capacity int, run func(*fiber)) *fiberPool {
	p := &fiberPool{
		fibers: make([]*fiber, capacity),
		free:   make([]*fiber, 0, capacity),
		run:    run,
	}
	for i := 0; i < capacity; i++ {
		f := &fiber{
			id:     i,
			owner:  owner,
			eng:    eng,
			resume: make(chan *worker, 1),
		}
		f.ctx = context.WithValue(context.Background(), fiberKey{}, f)
		p.fibers[i] = f
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, p.fibers[i])
	}
	return p
}

// get takes a fiber off the free list and marks it running. It never blocks;
// an empty free list means too many fibers are parked in Wait at once.
func (p *fiberPool) get() *fiber {
	if len(p.free) == 0 {
		panic(ErrFiberPoolExhausted)
	}
	f := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	f.state = fiberRunning
	if !f.started {
		f.started = true
		go p.run(f)
	}
	return f
}

func (p *fiberPool) put(f *fiber) {
	f.state = fiberFree
	p.free = append(p.free, f)
}

func (p *fiberPool) capacity() int { return len(p.fibers) }

func (p *fiberPool) freeCount() int { return len(p.free) }

func (p *fiberPool) count(state fiberState) int {
	n := 0
	for _, f := range p.fibers {
		if f.started && f.state == state {
			n++
		}
	}
	return n
}

func (p *fiberPool) startedCount() int {
	n := 0
	for _, f := range p.fibers {
		if f.started {
			n++
		}
	}
	return n
}

// close releases every started goroutine. Only call once no worker is left
// to hand out resumes.
func (p *fiberPool) close() {
	for _, f := range p.fibers {
		if f.started {
			close(f.resume)
		}
	}
}
