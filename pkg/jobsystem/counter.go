package jobsystem

import (
	"fmt"

	"github.com/ChuLiYu/fiberjobs/pkg/types"
)

// waiter is a parked fiber linked onto a counter.
type waiter struct {
	fiber    *fiber
	affinity types.WorkerID // affinity of the job the fiber was running
	next     *waiter
}

type counter struct {
	value      int32
	generation uint32
	waiters    *waiter
	deferred   []job // jobs submitted with this counter as precondition
}

// counterTable is a fixed array of completion counters addressed by
// generational handles. Not safe for concurrent use; the scheduler calls it
// with the sync lock held.
type counterTable struct {
	slots []counter
	free  []uint32
}

func newCounterTable(capacity int) *counterTable {
	t := &counterTable{
		slots: make([]counter, capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.slots[i].generation = 1
		t.free = append(t.free, uint32(i))
	}
	return t
}

// allocate pops a free slot and sets its value to one.
func (t *counterTable) allocate() types.JobHandle {
	if len(t.free) == 0 {
		panic(ErrCounterTableExhausted)
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	c := &t.slots[slot]
	c.value = 1
	c.waiters = nil
	c.deferred = nil
	return types.NewJobHandle(slot, c.generation)
}

func (t *counterTable) lookup(h types.JobHandle) *counter {
	if !h.IsValid() || int(h.Slot()) >= len(t.slots) {
		return nil
	}
	c := &t.slots[h.Slot()]
	if c.generation != h.Generation() {
		return nil
	}
	return c
}

// incrementIfLive fans one more job into h. It returns false when h is
// retired, in which case the caller allocates a fresh handle.
func (t *counterTable) incrementIfLive(h types.JobHandle) bool {
	c := t.lookup(h)
	if c == nil || c.value <= 0 {
		return false
	}
	c.value++
	return true
}

// isZero reports whether every job counted under h has finished. Stale
// handles read as finished.
func (t *counterTable) isZero(h types.JobHandle) bool {
	c := t.lookup(h)
	return c == nil || c.value == 0
}

// addWaiter links w onto h. It returns false if h is already zero.
func (t *counterTable) addWaiter(h types.JobHandle, w *waiter) bool {
	c := t.lookup(h)
	if c == nil || c.value == 0 {
		return false
	}
	w.next = c.waiters
	c.waiters = w
	return true
}

// addDeferred parks j until h reaches zero. It returns false if h is already zero.
func (t *counterTable) addDeferred(h types.JobHandle, j job) bool {
	c := t.lookup(h)
	if c == nil || c.value == 0 {
		return false
	}
	c.deferred = append(c.deferred, j)
	return true
}

// decrement retires one job from h. On reaching zero the waiter list and the
// deferred jobs are detached and returned, and the slot goes back to the free
// list under a bumped generation.
func (t *counterTable) decrement(h types.JobHandle) (*waiter, []job) {
	c := t.lookup(h)
	if c == nil || c.value <= 0 {
		panic(fmt.Sprintf("jobsystem: decrement of retired %s", h))
	}
	c.value--
	if c.value > 0 {
		return nil, nil
	}

	waiters, deferred := c.waiters, c.deferred
	c.waiters = nil
	c.deferred = nil
	c.generation++
	if c.generation == 0 {
		c.generation = 1
	}
	t.free = append(t.free, h.Slot())
	return waiters, deferred
}

func (t *counterTable) capacity() int { return len(t.slots) }

func (t *counterTable) live() int { return len(t.slots) - len(t.free) }
