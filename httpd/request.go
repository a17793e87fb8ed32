package httpd

// Request is a parsed request header block. The uri and host fields alias
// the connection's header buffer, so a Request is only valid until the
// connection responds or resets; handlers that need them longer must copy.
type Request struct {
	fd int

	method  Method
	uri     []byte
	version Version

	host          []byte
	connection    Connection
	contentLength uint64
}

// Fd is the descriptor the request arrived on.
func (r *Request) Fd() int { return r.fd }

func (r *Request) Method() Method { return r.method }

func (r *Request) URI() []byte { return r.uri }

func (r *Request) Version() Version { return r.version }

func (r *Request) Host() []byte { return r.host }

// Connection is the requested disposition, ConnectionClose unless the
// request carried "Connection: keep-alive".
func (r *Request) Connection() Connection { return r.connection }

func (r *Request) ContentLength() uint64 { return r.contentLength }

func (r *Request) reset(fd int) {
	*r = Request{fd: fd}
}
