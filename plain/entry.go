package plain

import (
	"sync/atomic"
	"time"
)

// nilIdx terminates the intrusive index links inside the entry table.
const nilIdx int32 = -1

// Table entry states. Transitions are done with compare-and-swap so that
// Add/Modify/Remove from different goroutines cannot tear an entry.
const (
	entryEmpty int32 = iota
	entryAdding
	entryActive
	entryModifying
)

const (
	schedUnscheduled int32 = iota
	schedScheduled
)

// registration is the callback and its opaque context, swapped atomically
// so the loop never observes a half-updated pair.
type registration struct {
	callback EventCallback
	data     interface{}
}

// entry is the per-descriptor registration. Entries live in a single slice
// indexed by fd number; the scheduler queue and the timeout wheel link
// entries through index fields instead of heap-allocated nodes.
type entry struct {
	// state机: empty -> adding -> active <-> modifying -> empty
	state int32

	eventMask uint32 // atomic, 调用方感兴趣的事件
	events    uint32 // atomic, 内核已交付、尚未消费的事件
	reg       atomic.Value

	// scheduler intrusive links, guarded by the owning list's lock.
	schedState  int32 // atomic
	schedLinked int32 // atomic, set while linked on either list
	schedNext   int32
	schedPrev   int32

	// timeout wheel intrusive links, guarded by the wheel lock.
	wheelNext int32
	wheelPrev int32
	bucket    int32
	deadline  time.Time

	async AsyncResult
}

func (e *entry) loadMask() EventMask {
	return EventMask(atomic.LoadUint32(&e.eventMask))
}

func (e *entry) storeMask(m EventMask) {
	atomic.StoreUint32(&e.eventMask, uint32(m))
}

func (e *entry) loadEvents() EventMask {
	return EventMask(atomic.LoadUint32(&e.events))
}

func (e *entry) storeEvents(m EventMask) {
	atomic.StoreUint32(&e.events, uint32(m))
}

func (e *entry) orEvents(bits EventMask) {
	for {
		old := atomic.LoadUint32(&e.events)
		if atomic.CompareAndSwapUint32(&e.events, old, old|uint32(bits)) {
			return
		}
	}
}

func (e *entry) andNotEvents(bits EventMask) {
	for {
		old := atomic.LoadUint32(&e.events)
		if atomic.CompareAndSwapUint32(&e.events, old, old&^uint32(bits)) {
			return
		}
	}
}
