package jobsystem

import (
	"time"

	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

// Observer receives scheduling events. Methods are called from worker
// fibers concurrently and must not block or call back into the scheduler.
type Observer interface {
	// JobStarted is called right before a job body runs.
	JobStarted(worker types.WorkerID)
	// JobFinished is called after the body returns. worker is where the job
	// ended, which differs from where it started if it waited without affinity.
	JobFinished(worker types.WorkerID, elapsed time.Duration)
	// FiberWaited is called when a fiber parked in Wait is resumed.
	FiberWaited(elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobStarted(types.WorkerID)                {}
func (nopObserver) JobFinished(types.WorkerID, time.Duration) {}
func (nopObserver) FiberWaited(time.Duration)                 {}
