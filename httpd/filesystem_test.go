package httpd

import (
	"bytes"
	"io"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fileResponder streams one fixed file for every request.
type fileResponder struct {
	s    *Server
	path string
}

func (h *fileResponder) Request(req *Request) {
	if err := h.s.RespondWithFile(req, h.path); err != nil {
		h.s.Drop(req)
	}
}

func writeTempFile(t *testing.T, size int) (string, []byte, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "httpd-test")
	require.NoError(t, err)

	content := make([]byte, size)
	rand.New(rand.NewSource(42)).Read(content)

	path := filepath.Join(dir, "payload")
	require.NoError(t, ioutil.WriteFile(path, content, 0644))
	return path, content, func() { _ = os.RemoveAll(dir) }
}

func startFileServer(t *testing.T, size int) (*Server, []byte, func()) {
	t.Helper()
	m, stopMain := startMain(t)

	path, content, cleanFile := writeTempFile(t, size)
	h := &fileResponder{path: path}
	s, err := NewServer(m, h, WithAddr("127.0.0.1:0"), WithMaxDescriptors(4096))
	require.NoError(t, err)
	h.s = s

	return s, content, func() {
		s.Shutdown()
		stopMain()
		cleanFile()
	}
}

func fileResponseHeader(size int) string {
	var buf [128]byte
	resp := NewResponse(buf[:], 200, "Okay")
	resp.AddHeaderFieldUint("Content-Length", uint64(size))
	resp.AddHeaderField("Connection", "keep-alive")
	return string(resp.Finish())
}

func TestFileResponseByteExact(t *testing.T) {
	const size = 3 << 20
	s, content, stop := startFileServer(t, size)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /f HTTP/1.1\r\nHost: z\r\n\r\n"))
	require.NoError(t, err)

	got, err := ioutil.ReadAll(conn)
	require.NoError(t, err)

	header := fileResponseHeader(size)
	require.Equal(t, "HTTP/1.1 200 Okay\r\nContent-Length: 3145728\r\nConnection: keep-alive\r\n\r\n", header)
	require.True(t, len(got) >= len(header), "short response: %d bytes", len(got))
	require.Equal(t, header, string(got[:len(header)]))
	require.True(t, bytes.Equal(content, got[len(header):]), "file body is not byte-exact")
}

func TestFileResponseKeepAlive(t *testing.T) {
	const size = 256 << 10
	s, content, stop := startFileServer(t, size)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	header := fileResponseHeader(size)
	buf := make([]byte, len(header)+size)

	for i := 0; i < 2; i++ {
		_, err := conn.Write([]byte("GET /f HTTP/1.1\r\nHost: z\r\nConnection: keep-alive\r\n\r\n"))
		require.NoError(t, err)
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err, "request %d", i)
		require.Equal(t, header, string(buf[:len(header)]))
		require.True(t, bytes.Equal(content, buf[len(header):]), "request %d body mismatch", i)
	}
}

func TestEmptyFileResponse(t *testing.T) {
	s, _, stop := startFileServer(t, 0)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /f HTTP/1.1\r\nHost: z\r\n\r\n"))
	require.NoError(t, err)

	got, err := ioutil.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, fileResponseHeader(0), string(got))
}

func TestMissingFileFallsBackToDrop(t *testing.T) {
	m, stopMain := startMain(t)
	defer stopMain()

	h := &fileResponder{path: "/nonexistent/file"}
	s, err := NewServer(m, h, WithAddr("127.0.0.1:0"), WithMaxDescriptors(4096))
	require.NoError(t, err)
	h.s = s
	defer s.Shutdown()

	conn := dial(t, s)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /f HTTP/1.1\r\nHost: z\r\n\r\n"))
	require.NoError(t, err)
	got, _ := ioutil.ReadAll(conn)
	require.Empty(t, got)
}
