package plain

import (
	"sync"
	"sync/atomic"

	"plainhttp/internal"
)

// scheduler is the ready queue: a two-list round-robin with a single
// consumer. Producers append to the secondary list under its own lock; the
// consumer pops from the primary and swaps the two when the primary runs
// dry. A descriptor that re-schedules itself therefore lands behind the
// whole current batch and cannot starve the others.
type scheduler struct {
	table []entry

	locks [2]sync.Locker
	head  [2]int32
	tail  [2]int32

	// side is the index of the secondary (producer) list.
	side int32

	length int32 // atomic
}

func newScheduler(table []entry) *scheduler {
	sch := &scheduler{
		table: table,
		head:  [2]int32{nilIdx, nilIdx},
		tail:  [2]int32{nilIdx, nilIdx},
		side:  1,
	}
	sch.locks[0] = internal.Spinlock()
	sch.locks[1] = internal.Spinlock()
	return sch
}

// schedule marks the entry runnable and queues it. Queuing an entry that
// is already queued is a no-op.
func (sch *scheduler) schedule(idx int32) {
	atomic.StoreInt32(&sch.table[idx].schedState, schedScheduled)
	sch.push(idx)
}

// deschedule marks the entry not-runnable. The entry may stay linked; the
// consumer skips stale links when it pops them.
func (sch *scheduler) deschedule(idx int32) {
	atomic.StoreInt32(&sch.table[idx].schedState, schedUnscheduled)
}

func (sch *scheduler) empty() bool {
	return atomic.LoadInt32(&sch.length) == 0
}

func (sch *scheduler) push(idx int32) {
	e := &sch.table[idx]
	for {
		side := atomic.LoadInt32(&sch.side)
		l := sch.locks[side]
		l.Lock()
		// 消费者可能在加锁间隙做了swap，重新确认一下
		if atomic.LoadInt32(&sch.side) != side {
			l.Unlock()
			continue
		}
		if atomic.LoadInt32(&e.schedLinked) == 1 {
			l.Unlock()
			return
		}
		e.schedPrev = sch.tail[side]
		e.schedNext = nilIdx
		if sch.tail[side] == nilIdx {
			sch.head[side] = idx
		} else {
			sch.table[sch.tail[side]].schedNext = idx
		}
		sch.tail[side] = idx
		atomic.StoreInt32(&e.schedLinked, 1)
		atomic.AddInt32(&sch.length, 1)
		l.Unlock()
		return
	}
}

// next pops entries until it finds one that is still runnable, flips it to
// unscheduled so the callback may re-schedule it, and returns its index.
// Returns nilIdx when both lists are empty. Consumer only.
func (sch *scheduler) next() int32 {
	for {
		idx := sch.popFront()
		if idx == nilIdx {
			return nilIdx
		}
		if atomic.CompareAndSwapInt32(&sch.table[idx].schedState, schedScheduled, schedUnscheduled) {
			return idx
		}
		// raced with a deschedule, skip it
	}
}

func (sch *scheduler) popFront() int32 {
	side := atomic.LoadInt32(&sch.side)
	primary := 1 - side

	sch.locks[primary].Lock()
	if sch.head[primary] != nilIdx {
		idx := sch.unlinkFront(primary)
		sch.locks[primary].Unlock()
		return idx
	}

	// Primary is dry: swap lists while holding both locks.
	sch.locks[side].Lock()
	atomic.StoreInt32(&sch.side, primary)
	var idx int32 = nilIdx
	if sch.head[side] != nilIdx {
		idx = sch.unlinkFront(side)
	}
	sch.locks[side].Unlock()
	sch.locks[primary].Unlock()
	return idx
}

func (sch *scheduler) unlinkFront(li int32) int32 {
	idx := sch.head[li]
	e := &sch.table[idx]
	next := e.schedNext
	sch.head[li] = next
	if next == nilIdx {
		sch.tail[li] = nilIdx
	} else {
		sch.table[next].schedPrev = nilIdx
	}
	e.schedNext = nilIdx
	e.schedPrev = nilIdx
	atomic.StoreInt32(&e.schedLinked, 0)
	atomic.AddInt32(&sch.length, -1)
	return idx
}
