package plain

import (
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"plainhttp/internal/netpoll"
)

const (
	// DefaultIdleTimeout is the deadline added when a descriptor acquires
	// the Timeout interest bit.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultLoopTick bounds how long one Update blocks in the kernel.
	DefaultLoopTick = time.Second

	// DefaultEventHandleCount is the number of callbacks run between two
	// readiness waits.
	DefaultEventHandleCount = 16

	// DefaultPollEventsSize is the size of the kernel event buffer.
	DefaultPollEventsSize = 128
)

// Poll is the reactor: a descriptor-indexed registration table over one
// edge-triggered epoll instance, with a fair-share ready queue and an
// idle-timeout wheel. All callbacks run on the goroutine calling Update;
// Add, Modify, Remove and Close are safe from any goroutine.
type Poll struct {
	opts   *Options
	logger Logger

	ep         *netpoll.Epoll
	pollEvents []unix.EpollEvent

	table []entry
	sched *scheduler
	wheel *timeoutWheel

	waiting int32  // atomic, loop阻塞在内核等待中
	wakeFn  func() // wakes a blocked Update, set by the loop owner

	// expire is bound once so the drain in Update stays allocation-free.
	expire func(idx int32)
}

// OpenPoll creates a reactor whose table is sized to the soft
// RLIMIT_NOFILE limit at the time of the call.
func OpenPoll(options ...Option) (*Poll, error) {
	opts := loadOptions(options...)

	limit := opts.MaxDescriptors
	if limit <= 0 {
		var err error
		if limit, err = FdLimit(); err != nil {
			return nil, err
		}
	}

	p := &Poll{
		opts:       opts,
		logger:     opts.Logger,
		pollEvents: make([]unix.EpollEvent, opts.PollEventsSize),
		table:      make([]entry, limit),
	}
	for i := range p.table {
		e := &p.table[i]
		e.schedNext = nilIdx
		e.schedPrev = nilIdx
		e.wheelNext = nilIdx
		e.wheelPrev = nilIdx
		e.bucket = nilIdx
		e.async = AsyncResult{poll: p, idx: int32(i)}
	}
	p.sched = newScheduler(p.table)
	p.wheel = newTimeoutWheel(p.table, opts.IdleTimeout)
	p.expire = p.scheduleTimeout

	ep, err := netpoll.OpenEpoll()
	if err != nil {
		return nil, err
	}
	p.ep = ep
	return p, nil
}

// FdLimit returns the soft RLIMIT_NOFILE limit, the largest value a file
// descriptor of this process can take.
func FdLimit() (int, error) {
	var l unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &l); err != nil {
		return 0, os.NewSyscallError("getrlimit", err)
	}
	return int(l.Cur), nil
}

// SetWakeup installs the function used to wake a blocked Update when a
// Modify from another goroutine makes a descriptor runnable.
func (p *Poll) SetWakeup(fn func()) {
	p.wakeFn = fn
}

// Add registers a descriptor. There can be only one registration per
// descriptor; a second Add fails with ErrAlreadyRegistered. The kernel
// side is armed edge-triggered for read and write at once, so a later
// Modify never needs another epoll_ctl call.
func (p *Poll) Add(fd int, events EventMask, callback EventCallback, data interface{}) error {
	if fd < 0 || fd >= len(p.table) {
		return ErrDescriptorOutOfRange
	}
	e := &p.table[fd]
	if !atomic.CompareAndSwapInt32(&e.state, entryEmpty, entryAdding) {
		return ErrAlreadyRegistered
	}

	e.storeEvents(0)
	e.storeMask(events)
	e.reg.Store(registration{callback: callback, data: data})

	if events&Timeout != 0 {
		p.wheel.add(int32(fd), time.Now())
	}

	atomic.StoreInt32(&e.state, entryActive)

	if err := p.ep.Add(fd); err != nil {
		p.wheel.cancel(int32(fd))
		e.storeMask(0)
		e.reg.Store(registration{})
		atomic.StoreInt32(&e.state, entryEmpty)
		return err
	}
	return nil
}

// Modify updates the interest mask and, when non-nil, the callback and
// data of an active registration. If the new mask intersects the pending
// events the descriptor is scheduled and a blocked loop is woken.
func (p *Poll) Modify(fd int, events EventMask, callback EventCallback, data interface{}) error {
	if fd < 0 || fd >= len(p.table) {
		return ErrDescriptorOutOfRange
	}
	e := &p.table[fd]
	if !atomic.CompareAndSwapInt32(&e.state, entryActive, entryModifying) {
		return ErrNotActive
	}

	e.storeMask(events)
	if callback != nil || data != nil {
		old, _ := e.reg.Load().(registration)
		if callback == nil {
			callback = old.callback
		}
		if data == nil {
			data = old.data
		}
		e.reg.Store(registration{callback: callback, data: data})
	}
	if events&Timeout != 0 {
		p.wheel.add(int32(fd), time.Now())
	}

	atomic.StoreInt32(&e.state, entryActive)

	if e.loadEvents()&events != 0 {
		p.scheduleEntry(int32(fd))
		if atomic.LoadInt32(&p.waiting) == 1 && p.wakeFn != nil {
			p.wakeFn()
		}
	}
	return nil
}

// Remove detaches an active registration; the entry returns to empty.
func (p *Poll) Remove(fd int) error {
	if fd < 0 || fd >= len(p.table) {
		return ErrDescriptorOutOfRange
	}
	e := &p.table[fd]
	if !atomic.CompareAndSwapInt32(&e.state, entryActive, entryModifying) {
		return ErrNotActive
	}

	e.storeMask(0)
	e.storeEvents(0)
	e.reg.Store(registration{})
	p.wheel.cancel(int32(fd))
	p.sched.deschedule(int32(fd))

	atomic.StoreInt32(&e.state, entryEmpty)

	return p.ep.Delete(fd)
}

// Close removes the registration and closes the underlying descriptor.
func (p *Poll) Close(fd int) error {
	if err := p.Remove(fd); err != nil {
		return err
	}
	return os.NewSyscallError("close", unix.Close(fd))
}

// Update is one reactor tick: wait for readiness (with a zero wait when
// work is already queued), fold delivered events into the table, expire
// idle deadlines, then run a bounded batch of queued callbacks. Reports
// whether the kernel wait returned no events.
func (p *Poll) Update(timeout time.Duration) (bool, error) {
	msec := int(timeout / time.Millisecond)

	atomic.StoreInt32(&p.waiting, 1)
	if !p.sched.empty() {
		msec = 0
	}
	n, err := p.ep.Wait(p.pollEvents, msec)
	atomic.StoreInt32(&p.waiting, 0)
	if err != nil {
		return false, err
	}

	for i := 0; i < n; i++ {
		ev := &p.pollEvents[i]
		idx := ev.Fd
		e := &p.table[idx]
		if atomic.LoadInt32(&e.state) != entryActive {
			// event for a descriptor removed in the meantime
			continue
		}
		e.orEvents(EventMask(ev.Events) & kernelBits)
		p.scheduleEntry(idx)
	}

	p.wheel.drain(time.Now(), p.expire)

	for i := 0; i < p.opts.EventHandleCount; i++ {
		if !p.runNext() {
			break
		}
	}

	return n == 0, nil
}

// Destroy closes the kernel polling handle. Registered descriptors are
// not touched.
func (p *Poll) Destroy() error {
	return p.ep.Close()
}

// scheduleEntry queues the entry when its interest intersects its pending
// events. A queued entry leaves the timeout wheel: while the scheduler
// owes it a call there is nothing to time out.
func (p *Poll) scheduleEntry(idx int32) {
	e := &p.table[idx]
	if e.loadEvents()&e.loadMask() != 0 {
		p.wheel.cancel(idx)
		p.sched.schedule(idx)
	}
}

// scheduleTimeout queues an entry whose idle deadline expired. The wheel
// has already dropped it.
func (p *Poll) scheduleTimeout(idx int32) {
	e := &p.table[idx]
	e.orEvents(Timeout)
	p.sched.schedule(idx)
}

// runNext pops and runs one queued callback. Reports false when the queue
// is empty.
func (p *Poll) runNext() bool {
	idx := p.sched.next()
	if idx == nilIdx {
		return false
	}
	e := &p.table[idx]
	if atomic.LoadInt32(&e.state) != entryActive {
		return true
	}
	reg, _ := e.reg.Load().(registration)
	events := e.loadEvents()
	if events&e.loadMask() == 0 || reg.callback == nil {
		return true
	}
	e.async.begin()
	reg.callback(int(idx), events, reg.data, &e.async)
	return true
}

// completed finishes one callback invocation; see AsyncResult.Complete.
func (p *Poll) completed(idx int32, result ResultMask) {
	e := &p.table[idx]
	if atomic.LoadInt32(&e.state) != entryActive {
		// The callback already detached its own descriptor.
		return
	}

	switch result {
	case CloseDescriptor:
		sniffErrorAndLog(p.logger, p.Close(int(idx)))
	case RemoveDescriptor:
		sniffErrorAndLog(p.logger, p.Remove(int(idx)))
	default:
		if result&ReadCompleted != 0 {
			e.andNotEvents(In)
		}
		if result&WriteCompleted != 0 {
			e.andNotEvents(Out)
		}
		// A timeout is delivered once; it never re-queues by itself.
		e.andNotEvents(Timeout)

		mask := e.loadMask()
		if e.loadEvents()&mask != 0 {
			// More work pending, back of the queue. scheduleEntry pulls
			// the entry off the wheel, keeping it in exactly one place.
			p.scheduleEntry(idx)
		} else if mask&Timeout != 0 {
			p.wheel.add(idx, time.Now())
		}
	}
}
