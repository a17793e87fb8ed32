package plain

import (
	"sync"
	"time"

	"plainhttp/internal"
)

const (
	// wheelSeconds is the span of the wheel: one bucket per second.
	wheelSeconds = 3600
)

type wheelBucket struct {
	head int32
	tail int32
}

// timeoutWheel tracks idle deadlines for descriptors carrying the Timeout
// interest bit. A descriptor sits in the bucket its deadline falls into;
// each drain walks the buckets between the previous drain and now and
// expires the entries whose deadline has truly passed. Entries that become
// ready before their deadline are pulled off the wheel when they are
// scheduled and re-added when their callback completes.
type timeoutWheel struct {
	table []entry

	lock    sync.Locker
	buckets [wheelSeconds]wheelBucket

	t0            time.Time
	lastProcessed int64 // seconds since t0, 上次drain到的位置
	timeout       time.Duration
}

func newTimeoutWheel(table []entry, timeout time.Duration) *timeoutWheel {
	w := &timeoutWheel{
		table:   table,
		lock:    internal.Spinlock(),
		t0:      time.Now(),
		timeout: timeout,
	}
	for i := range w.buckets {
		w.buckets[i].head = nilIdx
		w.buckets[i].tail = nilIdx
	}
	return w
}

// add places the entry on the wheel with a fresh deadline. An entry that
// is already on the wheel keeps its current deadline.
func (w *timeoutWheel) add(idx int32, now time.Time) {
	e := &w.table[idx]
	w.lock.Lock()
	if e.bucket != nilIdx {
		w.lock.Unlock()
		return
	}
	e.deadline = now.Add(w.timeout)
	sec := int64(e.deadline.Sub(w.t0) / time.Second)
	b := int32(sec % wheelSeconds)
	w.pushBack(b, idx)
	w.lock.Unlock()
}

// cancel removes the entry from the wheel if it is on it.
func (w *timeoutWheel) cancel(idx int32) {
	w.lock.Lock()
	w.remove(idx)
	w.lock.Unlock()
}

// drain walks all buckets between the last drain and now and hands every
// truly expired entry to expire. Expired entries are off the wheel by the
// time expire runs.
func (w *timeoutWheel) drain(now time.Time, expire func(idx int32)) {
	cur := int64(now.Sub(w.t0) / time.Second)

	w.lock.Lock()
	from := w.lastProcessed
	if cur-from >= wheelSeconds {
		// loop卡了超过一整圈，每个bucket扫一次就够了
		from = cur - wheelSeconds + 1
	}
	for sec := from; sec <= cur; sec++ {
		b := int32(sec % wheelSeconds)
		idx := w.buckets[b].head
		for idx != nilIdx {
			e := &w.table[idx]
			next := e.wheelNext
			if !e.deadline.After(now) {
				w.remove(idx)
				expire(idx)
			}
			idx = next
		}
	}
	w.lastProcessed = cur
	w.lock.Unlock()
}

func (w *timeoutWheel) pushBack(b, idx int32) {
	e := &w.table[idx]
	e.bucket = b
	e.wheelPrev = w.buckets[b].tail
	e.wheelNext = nilIdx
	if w.buckets[b].tail == nilIdx {
		w.buckets[b].head = idx
	} else {
		w.table[w.buckets[b].tail].wheelNext = idx
	}
	w.buckets[b].tail = idx
}

func (w *timeoutWheel) remove(idx int32) {
	e := &w.table[idx]
	b := e.bucket
	if b == nilIdx {
		return
	}
	if e.wheelPrev == nilIdx {
		w.buckets[b].head = e.wheelNext
	} else {
		w.table[e.wheelPrev].wheelNext = e.wheelNext
	}
	if e.wheelNext == nilIdx {
		w.buckets[b].tail = e.wheelPrev
	} else {
		w.table[e.wheelNext].wheelPrev = e.wheelPrev
	}
	e.wheelNext = nilIdx
	e.wheelPrev = nilIdx
	e.bucket = nilIdx
}
