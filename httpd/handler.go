package httpd

// RequestHandler maps requests to responses.
//
// Request must, before it returns, register exactly one response for req
// with the server it belongs to: RespondWithStaticString, RespondWithFile
// or Drop. The Request pointer is not valid after that.
type RequestHandler interface {
	Request(req *Request)
}
