package cli

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/fiberjobs/pkg/jobsystem"
	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

// demoReport collects what each stage of the demo workload observed.
type demoReport struct {
	FanOutJobs int
	FanOutSum  int64
	FanOutWant int64

	NestedParents  int
	NestedChildren int64

	AffinityJobs   int
	AffinityMisses int64

	ChainOrder []int

	Elapsed time.Duration
}

// OK reports whether every stage produced the expected result.
func (r demoReport) OK() bool {
	return r.FanOutSum == r.FanOutWant &&
		r.NestedChildren == int64(r.NestedParents*demoChildren) &&
		r.AffinityMisses == 0 &&
		r.chainOK()
}

func (r demoReport) chainOK() bool {
	if len(r.ChainOrder) != demoChainLength {
		return false
	}
	for i, v := range r.ChainOrder {
		if v != i {
			return false
		}
	}
	return true
}

const (
	demoFanOut        = 1000
	demoParents       = 8
	demoChildren      = 16
	demoAffinityPerWk = 8
	demoChainLength   = 5
)

// runDemo drives every scheduling path once: fan-out with a shared handle,
// jobs that spawn and wait on children, worker-pinned jobs and a
// precondition chain.
func runDemo(ctx context.Context, s *jobsystem.Scheduler, workers int) (demoReport, error) {
	var r demoReport
	start := time.Now()

	// 1. fan-out
	var sum atomic.Int64
	var h types.JobHandle
	for i := 1; i <= demoFanOut; i++ {
		err := s.Run(func(_ context.Context, data any) {
			sum.Add(int64(data.(int)))
		}, i, &h)
		if err != nil {
			return r, fmt.Errorf("fan-out submit: %w", err)
		}
	}
	s.Wait(ctx, h)
	r.FanOutJobs = demoFanOut
	r.FanOutSum = sum.Load()
	r.FanOutWant = int64(demoFanOut * (demoFanOut + 1) / 2)

	// 2. nested
	var children atomic.Int64
	var parents types.JobHandle
	for p := 0; p < demoParents; p++ {
		err := s.Run(func(jctx context.Context, _ any) {
			var mine types.JobHandle
			for c := 0; c < demoChildren; c++ {
				if err := s.Run(func(context.Context, any) { children.Add(1) }, nil, &mine); err != nil {
					return
				}
			}
			s.Wait(jctx, mine)
		}, nil, &parents)
		if err != nil {
			return r, fmt.Errorf("nested submit: %w", err)
		}
	}
	s.Wait(ctx, parents)
	r.NestedParents = demoParents
	r.NestedChildren = children.Load()

	// 3. affinity
	var misses atomic.Int64
	var pinned types.JobHandle
	for w := 0; w < workers; w++ {
		want := types.WorkerID(w)
		for i := 0; i < demoAffinityPerWk; i++ {
			err := s.RunOn(want, func(jctx context.Context, _ any) {
				if got, ok := s.CurrentWorker(jctx); !ok || got != want {
					misses.Add(1)
				}
			}, nil, &pinned)
			if err != nil {
				return r, fmt.Errorf("affinity submit: %w", err)
			}
		}
	}
	s.Wait(ctx, pinned)
	r.AffinityJobs = workers * demoAffinityPerWk
	r.AffinityMisses = misses.Load()

	// 4. precondition chain
	var mu sync.Mutex
	var prev types.JobHandle
	for i := 0; i < demoChainLength; i++ {
		var next types.JobHandle
		err := s.RunAfter(prev, types.AnyWorker, func(_ context.Context, data any) {
			mu.Lock()
			r.ChainOrder = append(r.ChainOrder, data.(int))
			mu.Unlock()
		}, i, &next)
		if err != nil {
			return r, fmt.Errorf("chain submit: %w", err)
		}
		prev = next
	}
	s.Wait(ctx, prev)

	r.Elapsed = time.Since(start)
	return r, nil
}

// stressReport is the result of a multi-producer fan-in run.
type stressReport struct {
	Jobs       int
	Producers  int
	Completed  int64
	Elapsed    time.Duration
	Throughput float64 // jobs per second
}

// runStress submits jobs from producers goroutines onto one shared handle
// and waits for all of them.
func runStress(ctx context.Context, s *jobsystem.Scheduler, jobs, producers int) (stressReport, error) {
	if jobs < 0 || producers < 1 {
		return stressReport{}, fmt.Errorf("invalid stress parameters: jobs=%d producers=%d", jobs, producers)
	}

	var completed atomic.Int64
	var h types.JobHandle
	body := func(context.Context, any) { completed.Add(1) }

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		share := jobs / producers
		if p < jobs%producers {
			share++
		}
		g.Go(func() error {
			for i := 0; i < share; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := s.Run(body, nil, &h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stressReport{}, fmt.Errorf("stress producers: %w", err)
	}
	s.Wait(ctx, h)
	elapsed := time.Since(start)

	r := stressReport{
		Jobs:      jobs,
		Producers: producers,
		Completed: completed.Load(),
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		r.Throughput = float64(r.Completed) / elapsed.Seconds()
	}
	return r, nil
}
