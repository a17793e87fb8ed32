package httpd

import "errors"

var (
	ErrMalformedHeaders   = errors.New("malformed headers")
	ErrUnsupportedMethod  = errors.New("unsupported request method")
	ErrUnsupportedVersion = errors.New("unsupported HTTP version")

	// ErrRequestOutOfBounds means the request's descriptor does not fit
	// the client table.
	ErrRequestOutOfBounds = errors.New("request file descriptor out of client table bounds")

	// ErrNotTCPListener means the configured address did not yield a TCP
	// listener whose descriptor can be extracted.
	ErrNotTCPListener = errors.New("listener is not a TCP listener")
)
