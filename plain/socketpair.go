package plain

import (
	"os"

	"golang.org/x/sys/unix"
)

// SocketPair is a pair of connected non-blocking stream endpoints used to
// steer the loop from other goroutines: writers push machine-word signal
// codes into FdIn, the loop reads them from FdOut.
type SocketPair struct {
	fds [2]int
}

func NewSocketPair() (*SocketPair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socketpair", err)
	}
	return &SocketPair{fds: fds}, nil
}

// FdIn is the writing endpoint.
func (sp *SocketPair) FdIn() int { return sp.fds[0] }

// FdOut is the reading endpoint, the one registered with the reactor.
func (sp *SocketPair) FdOut() int { return sp.fds[1] }

func (sp *SocketPair) Close() {
	if sp.fds[0] != -1 {
		_ = unix.Close(sp.fds[0])
		sp.fds[0] = -1
	}
	if sp.fds[1] != -1 {
		_ = unix.Close(sp.fds[1])
		sp.fds[1] = -1
	}
}
