// +build linux

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	// InitEvents is the initial size of the event buffer handed to Wait.
	InitEvents = 128
)

// Epoll is a thin wrapper around a single epoll instance. All registrations
// are made edge-triggered for both read and write at once, so interest
// changes after registration never need another epoll_ctl call.
type Epoll struct {
	fd int
}

func OpenEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Epoll{fd: fd}, nil
}

func (ep *Epoll) Close() error {
	return os.NewSyscallError("close", unix.Close(ep.fd))
}

// Add registers fd edge-triggered for read and write simultaneously.
// 事件的过滤由上层的interest mask来做，内核层面注册一次就够了
func (ep *Epoll) Add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
		Fd:     int32(fd),
	}
	return os.NewSyscallError("epoll_ctl add", unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, &ev))
}

// Delete removes fd from the epoll set.
// 关闭fd并不会自动从epoll集合中移除注册，必须显式DEL
func (ep *Epoll) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

// Wait blocks for at most msec milliseconds and fills events.
// An interrupted wait is reported as zero events, not as an error.
func (ep *Epoll) Wait(events []unix.EpollEvent, msec int) (int, error) {
	n, err := unix.EpollWait(ep.fd, events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	return n, nil
}
