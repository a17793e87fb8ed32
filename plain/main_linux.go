package plain

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Signal codes carried over the socket pair, one little-endian machine
// word each.
const (
	signalWake uint64 = 0
	signalStop uint64 = 1
)

const signalWordSize = 8

// Main owns one reactor and the loop driving it. Stop and Wakeup are safe
// from any goroutine; everything else runs on the goroutine calling Run.
type Main struct {
	opts *Options
	poll *Poll
	pair *SocketPair

	mu       sync.Mutex
	running  bool
	exitCode int

	// writeMu serializes signal writers; a stream pair gives interleaved
	// words no atomicity on its own.
	writeMu sync.Mutex

	// signal word reassembly, loop goroutine only
	sigBuf  [signalWordSize]byte
	sigFill int
	signals *queue.Queue
}

var (
	instance     *Main
	instanceOnce sync.Once
	instanceErr  error
)

// Instance returns the lazily-constructed process-wide Main. Prefer New
// plus injection where the call graph allows it.
func Instance() (*Main, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New()
	})
	return instance, instanceErr
}

func New(options ...Option) (*Main, error) {
	m := &Main{
		opts:    loadOptions(options...),
		signals: queue.New(),
	}

	var err error
	if m.poll, err = OpenPoll(options...); err != nil {
		return nil, err
	}

	// The pair must exist before the reactor starts serving anyone, so a
	// Stop from Create already has a loop to reach.
	if m.pair, err = NewSocketPair(); err != nil {
		_ = m.poll.Destroy()
		return nil, err
	}
	if err = m.poll.Add(m.pair.FdOut(), In, m.onSignal, nil); err != nil {
		m.pair.Close()
		_ = m.poll.Destroy()
		return nil, err
	}
	m.poll.SetWakeup(m.Wakeup)

	return m, nil
}

// Poll exposes the reactor for registrations.
func (m *Main) Poll() *Poll {
	return m.poll
}

// Run drives create, loop, destroy and returns the exit code passed to
// Stop, or 0 on a clean shutdown. A violation escaping a callback
// terminates the loop with code -1.
func (m *Main) Run(app Application, args []string) int {
	m.mu.Lock()
	m.running = true
	m.exitCode = 0
	m.mu.Unlock()

	app.Create(args)
	code := m.loop(app)
	app.Destroy()
	return code
}

func (m *Main) loop(app Application) (code int) {
	defer func() {
		if r := recover(); r != nil {
			m.opts.Logger.Printf("main loop terminated: %v\n", r)
			code = -1
		}
	}()

	for {
		m.mu.Lock()
		running := m.running
		code = m.exitCode
		m.mu.Unlock()
		if !running {
			return code
		}

		if _, err := m.poll.Update(m.opts.LoopTick); err != nil {
			m.opts.Logger.Printf("reactor update failed: %v\n", err)
			return -1
		}
		m.drainSignals()
		app.Idle()
	}
}

// Stop makes Run return code after the loop finishes its current batch.
func (m *Main) Stop(code int) {
	m.mu.Lock()
	m.exitCode = code
	m.running = false
	m.mu.Unlock()
	m.signal(signalStop)
}

// Wakeup interrupts a blocked readiness wait so the loop re-evaluates its
// predicates.
func (m *Main) Wakeup() {
	m.signal(signalWake)
}

// Destroy tears down the pair and the reactor. Only after Run returned.
func (m *Main) Destroy() {
	sniffErrorAndLog(m.opts.Logger, m.poll.Remove(m.pair.FdOut()))
	m.pair.Close()
	sniffErrorAndLog(m.opts.Logger, m.poll.Destroy())
}

func (m *Main) signal(code uint64) {
	var buf [signalWordSize]byte
	binary.LittleEndian.PutUint64(buf[:], code)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	off := 0
	for off < signalWordSize {
		n, err := unix.Write(m.pair.FdIn(), buf[off:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if off == 0 {
				// Pair buffer full: the loop is drowning in signals
				// already and will wake on its own.
				return
			}
			// 写了半个word就不能放弃，否则流就乱了
			runtime.Gosched()
			continue
		}
		if err != nil {
			m.opts.Logger.Printf("signal write failed: %v\n", err)
			return
		}
		off += n
	}
}

// onSignal drains the pair, reassembling word-sized signal codes across
// partial reads. Runs on the loop goroutine.
func (m *Main) onSignal(fd int, events EventMask, _ interface{}, res *AsyncResult) {
	for {
		n, err := unix.Read(fd, m.sigBuf[m.sigFill:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			res.Complete(ReadCompleted)
			return
		}
		if err != nil || n == 0 {
			panic(fmt.Errorf("%v: %v", ErrSignalPairCorrupt, err))
		}
		m.sigFill += n
		if m.sigFill == signalWordSize {
			m.sigFill = 0
			m.signals.Add(binary.LittleEndian.Uint64(m.sigBuf[:]))
		}
	}
}

func (m *Main) drainSignals() {
	for m.signals.Length() > 0 {
		switch code := m.signals.Remove().(uint64); code {
		case signalWake:
			// nothing to do, the wait already broke
		case signalStop:
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		default:
			m.opts.Logger.Printf("unknown signal code %d\n", code)
		}
	}
}
