// Package plain is a single-threaded edge-triggered I/O reactor.
//
// A Poll owns a file-descriptor-indexed table of registrations over one
// epoll instance. Descriptors whose interest mask intersects their active
// events are queued on a fair-share scheduler and their callbacks run, a
// bounded number per tick, on the loop goroutine. Descriptors carrying the
// Timeout interest bit are tracked by a coarse one-second wheel and get the
// Timeout bit delivered as an ordinary event when they idle out.
//
// The edge-triggered contract is load-bearing: a callback must drain its
// descriptor until the underlying syscall reports EAGAIN, and must signal
// which readiness it drained through AsyncResult.Complete. Reporting
// ReadCompleted/WriteCompleted without actually having drained will stall
// the descriptor, because the kernel will not deliver another edge.
package plain

import "sync/atomic"

// EventMask is a bitset of interest or readiness bits. All bits except
// Timeout share the kernel epoll values. Timeout is a purely logical bit
// that is never passed to the kernel.
type EventMask uint32

const (
	// In means a read call would not block.
	In EventMask = 0x001
	// Pri means priority data is available.
	Pri EventMask = 0x002
	// Out means a write call would not block.
	Out EventMask = 0x004
	// Err means an error occurred on the descriptor.
	Err EventMask = 0x008
	// Hup means the other side hung up.
	Hup EventMask = 0x010
	// RDHup means the peer closed its writing half.
	RDHup EventMask = 0x2000

	// Timeout means the descriptor sat idle past its deadline. Disjoint
	// from every kernel readiness bit.
	Timeout EventMask = 0x01000000
)

// kernelBits are the EventMask bits that may come out of epoll_wait.
const kernelBits = In | Pri | Out | Err | Hup | RDHup

// ResultMask is signaled back by a callback to describe how far it drained
// its descriptor. ReadCompleted and WriteCompleted combine by OR;
// RemoveDescriptor and CloseDescriptor are terminal values compared by
// equality.
type ResultMask int

const (
	// NoneCompleted leaves the readiness bits set (a delivered Timeout bit
	// is still cleared); the descriptor is queued again behind the entries
	// already waiting, which may be within the same Update.
	NoneCompleted ResultMask = 0

	// ReadCompleted should be returned when a read() call hit EAGAIN.
	ReadCompleted ResultMask = 1

	// WriteCompleted should be returned when a write() call hit EAGAIN.
	WriteCompleted ResultMask = 2

	// RemoveDescriptor detaches the descriptor from the polling system.
	RemoveDescriptor ResultMask = 127

	// CloseDescriptor detaches the descriptor and closes the underlying fd.
	CloseDescriptor ResultMask = 255
)

// EventCallback is invoked by the scheduler for a ready descriptor.
// The callback must complete res exactly once per invocation, possibly
// after issuing further reactor operations.
type EventCallback func(fd int, events EventMask, data interface{}, res *AsyncResult)

// AsyncResult carries the completion of one callback invocation back into
// the reactor. It is embedded in the descriptor's table entry, so no
// allocation happens per event.
type AsyncResult struct {
	poll    *Poll
	idx     int32
	pending int32
}

// begin arms the result for one invocation.
func (r *AsyncResult) begin() {
	atomic.StoreInt32(&r.pending, 1)
}

// Complete signals the result of the current invocation. The second and
// later calls within one invocation are ignored.
func (r *AsyncResult) Complete(result ResultMask) {
	if !atomic.CompareAndSwapInt32(&r.pending, 1, 0) {
		return
	}
	r.poll.completed(r.idx, result)
}
