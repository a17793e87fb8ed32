package httpd

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
	"plainhttp/internal/netpoll"
	"plainhttp/plain"
)

const (
	// DefaultBufferSize is the per-connection header buffer size. It also
	// signifies the max header length in bytes.
	DefaultBufferSize = 8192

	// DefaultAcceptsPerEvent bounds accepts per listener callback.
	DefaultAcceptsPerEvent = 16

	// bufferPad keeps word-sized scans past the fill safe.
	bufferPad = 4
)

// Connection states driven by the client callback.
type connState int32

const (
	stateAccepted connState = iota
	stateReadingHeader
	stateHeaderReceived
	stateSendingResponse
	stateStreamingFile
)

var crlfcrlf = []byte("\r\n\r\n")

// clientContext is the per-descriptor connection state, held in a table
// indexed by descriptor number. The same table carries the contexts of the
// intermediate pipe descriptors used for file responses.
type clientContext struct {
	state connState

	buffer     [DefaultBufferSize + bufferPad]byte
	bufferFill int

	request Request

	// send cursor; for file responses it first covers the header bytes in
	// buffer, then counts the spliced body bytes.
	sendBuffer []byte
	sendPos    int64
	sendSize   int64

	contentLength int64
	streaming     bool

	// sourceFd on a client socket is the pipe read end feeding it; on the
	// pipe write end it is the file. destinationFd on the pipe read end is
	// the client socket.
	sourceFd      int
	destinationFd int
}

func (ctx *clientContext) reset() {
	ctx.state = stateAccepted
	ctx.bufferFill = 0
	ctx.sendBuffer = nil
	ctx.sendPos = 0
	ctx.sendSize = 0
	ctx.contentLength = 0
	ctx.streaming = false
	ctx.sourceFd = -1
	ctx.destinationFd = -1
}

// Server accepts connections on one listening socket and drives each one
// through the header/response state machine on the reactor loop.
type Server struct {
	poll    *plain.Poll
	logger  plain.Logger
	opts    *Options
	handler RequestHandler

	ln   net.Listener
	lnf  *os.File
	lnfd int

	table []clientContext
}

// NewServer binds the listen address and registers it with m's reactor.
// The handler is invoked on the loop goroutine for every parsed request.
func NewServer(m *plain.Main, handler RequestHandler, options ...Option) (*Server, error) {
	opts := loadOptions(options...)
	if opts.Logger == nil {
		opts.Logger = plain.DefaultLogger()
	}

	limit := opts.MaxDescriptors
	if limit <= 0 {
		var err error
		if limit, err = plain.FdLimit(); err != nil {
			return nil, err
		}
	}

	s := &Server{
		poll:    m.Poll(),
		logger:  opts.Logger,
		opts:    opts,
		handler: handler,
		table:   make([]clientContext, limit),
	}
	for i := range s.table {
		s.table[i].sourceFd = -1
		s.table[i].destinationFd = -1
	}

	var err error
	if opts.ReusePort {
		s.ln, err = netpoll.ReusePortListen("tcp", opts.Addr)
	} else {
		s.ln, err = net.Listen("tcp", opts.Addr)
	}
	if err != nil {
		return nil, err
	}

	if err = s.renormalize(); err != nil {
		_ = s.ln.Close()
		return nil, err
	}

	if err = s.poll.Add(s.lnfd, plain.In, s.onAccept, nil); err != nil {
		_ = s.lnf.Close()
		_ = s.ln.Close()
		return nil, err
	}
	return s, nil
}

// renormalize extracts the listener's descriptor and puts it back into
// non-blocking mode, which File() undid.
func (s *Server) renormalize() error {
	tln, ok := s.ln.(*net.TCPListener)
	if !ok {
		return ErrNotTCPListener
	}
	f, err := tln.File()
	if err != nil {
		return err
	}
	s.lnf = f
	s.lnfd = int(f.Fd())
	if s.lnfd >= len(s.table) {
		_ = f.Close()
		return ErrRequestOutOfBounds
	}
	return unix.SetNonblock(s.lnfd, true)
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown detaches and closes the listening socket. Established
// connections keep running until they complete or idle out.
func (s *Server) Shutdown() {
	if err := s.poll.Remove(s.lnfd); err != nil {
		s.logger.Printf("listener remove failed: %v\n", err)
	}
	_ = s.lnf.Close()
	_ = s.ln.Close()
}

// onAccept drains the listen backlog, a bounded number per invocation so
// an accept storm cannot starve established connections.
func (s *Server) onAccept(fd int, events plain.EventMask, _ interface{}, res *plain.AsyncResult) {
	for i := 0; i < s.opts.AcceptsPerEvent; i++ {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				// backlog drained
				res.Complete(plain.ReadCompleted)
				return
			}
			if err == unix.EMFILE || err == unix.ENFILE || err == unix.ENOBUFS || err == unix.ENOMEM {
				// 资源耗尽：让出去跑别的事件，下个tick再试
				res.Complete(plain.NoneCompleted)
				return
			}
			panic(os.NewSyscallError("accept4", err))
		}
		if err = s.initConnection(nfd); err != nil {
			s.logger.Printf("connection setup failed for fd %d: %v\n", nfd, err)
			_ = unix.Close(nfd)
		}
	}
	// Budget used up with the backlog possibly non-empty; stay scheduled.
	res.Complete(plain.NoneCompleted)
}

func (s *Server) initConnection(fd int) error {
	if fd < 0 || fd >= len(s.table) {
		return ErrRequestOutOfBounds
	}
	ctx := &s.table[fd]
	ctx.reset()
	ctx.request.reset(fd)
	return s.poll.Add(fd, plain.In|plain.Timeout, s.onClient, nil)
}

// onClient is the per-connection state machine entry point.
func (s *Server) onClient(fd int, events plain.EventMask, _ interface{}, res *plain.AsyncResult) {
	ctx := &s.table[fd]

	if events&plain.Timeout != 0 {
		res.Complete(plain.CloseDescriptor)
		return
	}

	switch ctx.state {
	case stateAccepted, stateReadingHeader:
		s.readHeader(fd, ctx, res)
	case stateSendingResponse:
		s.writeResponse(fd, ctx, res)
	case stateStreamingFile:
		s.copyPipeToSocket(fd, ctx, res)
	default:
		res.Complete(plain.CloseDescriptor)
	}
}

// readHeader drains the socket into the header buffer until EAGAIN,
// scanning for the end-of-header marker after every read. The scan starts
// a marker-length back so a CRLFCRLF split across reads is still found.
func (s *Server) readHeader(fd int, ctx *clientContext, res *plain.AsyncResult) {
	ctx.state = stateReadingHeader
	for {
		if ctx.bufferFill >= DefaultBufferSize {
			// 8K里都没有CRLFCRLF，头太大，直接关
			res.Complete(plain.CloseDescriptor)
			return
		}
		n, err := unix.Read(fd, ctx.buffer[ctx.bufferFill:DefaultBufferSize])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			res.Complete(plain.ReadCompleted)
			return
		}
		if err != nil || n == 0 {
			// peer went away
			res.Complete(plain.CloseDescriptor)
			return
		}

		scanFrom := ctx.bufferFill - bufferPad
		if scanFrom < 0 {
			scanFrom = 0
		}
		ctx.bufferFill += n
		if i := indexCRLFCRLF(ctx.buffer[scanFrom:ctx.bufferFill]); i >= 0 {
			s.dispatch(fd, ctx, scanFrom+i+len(crlfcrlf), res)
			return
		}
	}
}

func indexCRLFCRLF(b []byte) int {
	for i := 0; i+len(crlfcrlf) <= len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i
		}
	}
	return -1
}

// dispatch parses the complete header block and hands the request to the
// handler, which must respond or drop before returning.
func (s *Server) dispatch(fd int, ctx *clientContext, headerLen int, res *plain.AsyncResult) {
	ctx.state = stateHeaderReceived
	ctx.request.reset(fd)
	if err := ParseRequestHeaders(&ctx.request, ctx.buffer[:headerLen]); err != nil {
		// Protocol violation: close without a response. A 4xx for
		// well-formed-but-unservable requests is the handler's job.
		res.Complete(plain.CloseDescriptor)
		return
	}

	s.handler.Request(&ctx.request)

	// Deliberately not ReadCompleted: the socket was not drained to
	// EAGAIN, so the IN readiness must stay parked. Under edge triggering
	// a pipelined request already sitting in the socket buffer produces
	// no further edge.
	res.Complete(plain.NoneCompleted)
}

// RespondWithStaticString retains body and sends it verbatim. The caller
// keeps ownership; the bytes must stay valid until the response completes.
func (s *Server) RespondWithStaticString(req *Request, body []byte) error {
	fd := req.fd
	if fd < 0 || fd >= len(s.table) {
		return ErrRequestOutOfBounds
	}
	ctx := &s.table[fd]
	ctx.sendBuffer = body
	ctx.sendPos = 0
	ctx.sendSize = int64(len(body))
	ctx.streaming = false
	ctx.state = stateSendingResponse
	return s.poll.Modify(fd, plain.Out|plain.Timeout, nil, nil)
}

// Drop closes the request's connection via the reactor.
func (s *Server) Drop(req *Request) {
	if err := s.poll.Close(req.fd); err != nil {
		s.logger.Printf("drop failed for fd %d: %v\n", req.fd, err)
	}
}

// writeResponse pushes the send buffer: a whole static response, or the
// header block of a file response.
func (s *Server) writeResponse(fd int, ctx *clientContext, res *plain.AsyncResult) {
	if ctx.streaming {
		s.cork(fd)
	}
	for {
		n, err := unix.Write(fd, ctx.sendBuffer[ctx.sendPos:ctx.sendSize])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			res.Complete(plain.WriteCompleted)
			return
		}
		if err != nil || n == 0 {
			res.Complete(plain.CloseDescriptor)
			return
		}
		ctx.sendPos += int64(n)
		break
	}

	if ctx.sendPos < ctx.sendSize {
		res.Complete(plain.NoneCompleted)
		return
	}

	if ctx.streaming {
		s.startStreaming(fd, ctx, res)
		return
	}
	s.finishResponse(fd, ctx, res)
}

// finishResponse either resets the connection for the next request on a
// keep-alive socket or closes it.
func (s *Server) finishResponse(fd int, ctx *clientContext, res *plain.AsyncResult) {
	if ctx.request.connection == ConnectionKeepAlive {
		ctx.reset()
		ctx.request.reset(fd)
		if err := s.poll.Modify(fd, plain.In|plain.Timeout, nil, nil); err != nil {
			res.Complete(plain.CloseDescriptor)
			return
		}
		// Not WriteCompleted: the write never hit EAGAIN, so the parked
		// OUT readiness must survive for the next response on this
		// socket. It also re-queues the connection right away when a
		// pipelined request is already buffered.
		res.Complete(plain.NoneCompleted)
		return
	}
	res.Complete(plain.CloseDescriptor)
}

func (s *Server) cork(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, 1)
}

func (s *Server) uncork(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_CORK, 0)
}
