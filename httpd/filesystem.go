package httpd

import (
	"os"

	"golang.org/x/sys/unix"
	"plainhttp/plain"
)

const (
	// DefaultSpliceCount bounds splice calls per callback invocation.
	DefaultSpliceCount = 8

	// DefaultChunkSize is the byte count requested per splice.
	DefaultChunkSize = 64 * 1024

	// DefaultPipeBufferSize is the requested intermediate pipe capacity.
	DefaultPipeBufferSize = 1 << 20
)

// RespondWithFile streams the file at path to the request's socket without
// copying through user space: the file is spliced into an intermediate
// pipe and the pipe into the socket. The response headers carry the file
// length and are corked together with the first body bytes.
//
// Errors opening or sizing the file are returned to the handler before
// anything is written, so it can still register a different response.
func (s *Server) RespondWithFile(req *Request, path string) error {
	fd := req.fd
	if fd < 0 || fd >= len(s.table) {
		return ErrRequestOutOfBounds
	}
	ctx := &s.table[fd]

	fileFd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return os.NewSyscallError("open", err)
	}

	var st unix.Stat_t
	if err = unix.Fstat(fileFd, &st); err != nil {
		_ = unix.Close(fileFd)
		return os.NewSyscallError("fstat", err)
	}

	var pipeFds [2]int
	if err = unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(fileFd)
		return os.NewSyscallError("pipe2", err)
	}
	if pipeFds[0] >= len(s.table) || pipeFds[1] >= len(s.table) {
		s.closeFds(fileFd, pipeFds[0], pipeFds[1])
		return ErrRequestOutOfBounds
	}

	// Best effort; capped by fs.pipe-max-size.
	_, _ = unix.FcntlInt(uintptr(pipeFds[0]), unix.F_SETPIPE_SZ, s.opts.PipeBufferSize)
	_, _ = unix.FcntlInt(uintptr(pipeFds[1]), unix.F_SETPIPE_SZ, s.opts.PipeBufferSize)

	ctx.contentLength = st.Size
	ctx.sourceFd = pipeFds[0]

	feed := &s.table[pipeFds[1]]
	feed.reset()
	feed.sourceFd = fileFd

	drain := &s.table[pipeFds[0]]
	drain.reset()
	drain.destinationFd = fd

	resp := NewResponse(ctx.buffer[:], 200, "Okay")
	resp.AddHeaderFieldUint("Content-Length", uint64(st.Size))
	resp.AddHeaderField("Connection", "keep-alive")
	header := resp.Finish()

	ctx.sendBuffer = header
	ctx.sendPos = 0
	ctx.sendSize = int64(len(header))
	ctx.streaming = true
	ctx.state = stateSendingResponse

	if err = s.poll.Modify(fd, plain.Out|plain.Timeout, nil, nil); err != nil {
		s.closeFds(fileFd, pipeFds[0], pipeFds[1])
		ctx.reset()
		return err
	}
	if err = s.poll.Add(pipeFds[1], plain.Out, s.onPipeFeed, nil); err != nil {
		s.closeFds(fileFd, pipeFds[0], pipeFds[1])
		// The OUT interest is already armed; degrade to a header-only
		// send so no callback ever touches the dead pipe descriptors.
		ctx.streaming = false
		ctx.sourceFd = -1
		return err
	}
	return nil
}

func (s *Server) closeFds(fds ...int) {
	for _, fd := range fds {
		if fd != -1 {
			_ = unix.Close(fd)
		}
	}
}

// startStreaming runs once the header block is flushed: the send cursor
// flips to counting body bytes and the pipe read end is watched for data.
func (s *Server) startStreaming(fd int, ctx *clientContext, res *plain.AsyncResult) {
	ctx.sendPos = 0
	ctx.sendSize = ctx.contentLength
	ctx.state = stateStreamingFile

	if ctx.contentLength == 0 {
		// Nothing to splice. The feed side shuts itself down on EOF.
		s.uncork(fd)
		_ = unix.Close(ctx.sourceFd)
		ctx.sourceFd = -1
		s.finishResponse(fd, ctx, res)
		return
	}

	if err := s.poll.Add(ctx.sourceFd, plain.In|plain.Hup, s.onPipeReady, nil); err != nil {
		s.logger.Printf("pipe watch failed for fd %d: %v\n", ctx.sourceFd, err)
		_ = unix.Close(ctx.sourceFd)
		ctx.sourceFd = -1
		res.Complete(plain.CloseDescriptor)
		return
	}
	// The socket leaves the reactor while the pipe fills; the pipe-ready
	// callback re-registers it for OUT.
	res.Complete(plain.RemoveDescriptor)
}

// onPipeFeed splices from the file into the pipe while the pipe has room.
// Registered on the pipe write end.
func (s *Server) onPipeFeed(fd int, events plain.EventMask, _ interface{}, res *plain.AsyncResult) {
	ctx := &s.table[fd]
	for i := 0; i < s.opts.SpliceCount; i++ {
		n, err := unix.Splice(ctx.sourceFd, nil, fd, nil, s.opts.ChunkSize, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// pipe满，等下游腾出空间
			res.Complete(plain.WriteCompleted)
			return
		}
		if err != nil || n == 0 {
			// EOF on the file, or the drain side went away. Closing the
			// write end is what delivers EOF downstream.
			_ = unix.Close(ctx.sourceFd)
			ctx.sourceFd = -1
			res.Complete(plain.CloseDescriptor)
			return
		}
	}
	res.Complete(plain.NoneCompleted)
}

// onPipeReady fires when the pipe read end has data (or EOF) for a socket
// that is waiting off-reactor. It hands the OUT interest back to the
// socket and takes the pipe read end off the reactor again.
func (s *Server) onPipeReady(fd int, events plain.EventMask, _ interface{}, res *plain.AsyncResult) {
	ctx := &s.table[fd]
	if err := s.poll.Add(ctx.destinationFd, plain.Out, s.onClient, nil); err != nil {
		s.logger.Printf("socket rearm failed for fd %d: %v\n", ctx.destinationFd, err)
		res.Complete(plain.CloseDescriptor)
		return
	}
	res.Complete(plain.RemoveDescriptor)
}

// copyPipeToSocket splices body bytes from the pipe into the socket, a
// bounded number of chunks per invocation.
func (s *Server) copyPipeToSocket(fd int, ctx *clientContext, res *plain.AsyncResult) {
	for i := 0; i < s.opts.SpliceCount; i++ {
		n, err := unix.Splice(ctx.sourceFd, nil, fd, nil, s.opts.ChunkSize, unix.SPLICE_F_MOVE|unix.SPLICE_F_MORE|unix.SPLICE_F_NONBLOCK)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			blocked, perr := socketWouldBlock(fd)
			if perr != nil {
				s.abortTransfer(ctx)
				res.Complete(plain.CloseDescriptor)
				return
			}
			if blocked {
				// Socket buffer is full; the next OUT edge resumes us.
				res.Complete(plain.WriteCompleted)
				return
			}
			// Pipe is empty: wait for the feed side to fill it.
			if err = s.poll.Add(ctx.sourceFd, plain.In|plain.Hup, s.onPipeReady, nil); err != nil {
				s.abortTransfer(ctx)
				res.Complete(plain.CloseDescriptor)
				return
			}
			res.Complete(plain.RemoveDescriptor)
			return
		}
		if err != nil || n == 0 {
			// EPIPE/ECONNRESET, or the pipe hit EOF short of the declared
			// length.
			s.abortTransfer(ctx)
			res.Complete(plain.CloseDescriptor)
			return
		}

		ctx.sendPos += n
		if ctx.sendPos >= ctx.sendSize {
			s.uncork(fd)
			_ = unix.Close(ctx.sourceFd)
			ctx.sourceFd = -1
			s.finishResponse(fd, ctx, res)
			return
		}
	}
	res.Complete(plain.NoneCompleted)
}

// abortTransfer drops the pipe read end; the feed side notices on its next
// splice and cleans up the file and the write end.
func (s *Server) abortTransfer(ctx *clientContext) {
	if ctx.sourceFd != -1 {
		_ = unix.Close(ctx.sourceFd)
		ctx.sourceFd = -1
	}
}

// socketWouldBlock reports whether a write to fd would block, used to tell
// a full socket from an empty pipe when splice returns EAGAIN.
func socketWouldBlock(fd int) (bool, error) {
	var pfds [1]unix.PollFd
	pfds[0] = unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT}
	for {
		n, err := unix.Poll(pfds[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return true, nil
		}
		return pfds[0].Revents&unix.POLLOUT == 0, nil
	}
}
