package main

import (
	"fmt"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"

	"github.com/valyala/bytebufferpool"
	"plainhttp/httpd"
	"plainhttp/plain"
)

const defaultPort = 8080

// fileHandler serves GET requests straight from a directory root and
// answers everything else, and every failed open, with a canned 404 page.
type fileHandler struct {
	server   *httpd.Server
	root     string
	notFound []byte
}

func newFileHandler(root string) *fileHandler {
	// The 404 response is assembled once; the engine retains the bytes
	// across responses.
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	body := "<HTML><BODY>Not Found</BODY></HTML>"
	_, _ = fmt.Fprintf(bb, "HTTP/1.1 404 Not Found\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	page := make([]byte, bb.Len())
	copy(page, bb.Bytes())

	return &fileHandler{root: root, notFound: page}
}

func (h *fileHandler) Request(req *httpd.Request) {
	if req.Method() != httpd.MethodGet {
		h.respondNotFound(req)
		return
	}
	p := path.Join(h.root, path.Clean("/"+string(req.URI())))
	if err := h.server.RespondWithFile(req, p); err != nil {
		h.respondNotFound(req)
	}
}

func (h *fileHandler) respondNotFound(req *httpd.Request) {
	if err := h.server.RespondWithStaticString(req, h.notFound); err != nil {
		h.server.Drop(req)
	}
}

// app wires the server into the reactor lifecycle.
type app struct {
	plain.BaseApplication

	main *plain.Main
	port int
	root string

	server *httpd.Server
}

func (a *app) Create(args []string) {
	handler := newFileHandler(a.root)
	server, err := httpd.NewServer(a.main, handler, httpd.WithAddr(fmt.Sprintf(":%d", a.port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
		a.main.Stop(1)
		return
	}
	handler.server = server
	a.server = server
}

func (a *app) Destroy() {
	if a.server != nil {
		a.server.Shutdown()
	}
}

func main() {
	port := defaultPort
	if len(os.Args) > 1 {
		p, err := strconv.Atoi(os.Args[1])
		if err != nil || p <= 0 || p > 0xffff {
			fmt.Fprintf(os.Stderr, "usage: %s [port]\n", os.Args[0])
			os.Exit(2)
		}
		port = p
	}

	m, err := plain.Instance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactor init failed: %v\n", err)
		os.Exit(1)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if <-shutdown == nil {
			return
		}
		m.Stop(0)
	}()
	code := m.Run(&app{main: m, port: port, root: "."}, os.Args[1:])
	signal.Stop(shutdown)
	os.Exit(code)
}
