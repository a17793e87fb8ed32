package httpd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	require.Equal(t, MethodGet, ParseMethod([]byte("GET")))
	require.Equal(t, MethodPut, ParseMethod([]byte("PUT")))
	require.Equal(t, MethodPost, ParseMethod([]byte("POST")))
	require.Equal(t, MethodUnknown, ParseMethod([]byte("HEAD")))
	require.Equal(t, MethodUnknown, ParseMethod([]byte("get")))
	require.Equal(t, MethodUnknown, ParseMethod([]byte("DELETE")))
}

func TestParseVersion(t *testing.T) {
	require.Equal(t, Version10, ParseVersion([]byte("1.0")))
	require.Equal(t, Version11, ParseVersion([]byte("1.1")))
	require.Equal(t, VersionUnknown, ParseVersion([]byte("2.0")))
	require.Equal(t, VersionUnknown, ParseVersion([]byte("1.12")))
}

func parse(t *testing.T, raw string) (*Request, error) {
	t.Helper()
	req := &Request{}
	req.reset(9)
	buf := []byte(raw)
	err := ParseRequestHeaders(req, buf)
	return req, err
}

func TestParseSimpleGet(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, 9, req.Fd())
	require.Equal(t, MethodGet, req.Method())
	require.Equal(t, "/", string(req.URI()))
	require.Equal(t, Version11, req.Version())
	require.Equal(t, "x", string(req.Host()))
	require.Equal(t, ConnectionClose, req.Connection())
	require.Equal(t, uint64(0), req.ContentLength())
}

func TestParsePostWithContentLength(t *testing.T) {
	req, err := parse(t, "POST /x HTTP/1.0\r\nHost: y\r\nContent-Length: 0\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, MethodPost, req.Method())
	require.Equal(t, "/x", string(req.URI()))
	require.Equal(t, Version10, req.Version())
	require.Equal(t, "y", string(req.Host()))
	require.Equal(t, uint64(0), req.ContentLength())
}

func TestParseKeepAlive(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, ConnectionKeepAlive, req.Connection())

	req, err = parse(t, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, ConnectionClose, req.Connection())
}

func TestParseFoldsHeaderKeys(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nHoSt: MixedCase\r\nCONNECTION: keep-alive\r\n\r\n")
	require.NoError(t, err)
	// Keys fold, values stay verbatim.
	require.Equal(t, "MixedCase", string(req.Host()))
	require.Equal(t, ConnectionKeepAlive, req.Connection())
}

func TestParseIgnoresUnknownHeaders(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nHost: x\r\nX-Whatever: y\r\nAccept: */*\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, "x", string(req.Host()))
}

func TestParseSkipsValueLeadingSpaces(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nHost:    spaced\r\n\r\n")
	require.NoError(t, err)
	require.Equal(t, "spaced", string(req.Host()))
}

func TestParseRejectsUnsupportedMethod(t *testing.T) {
	_, err := parse(t, "HEAD / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, ErrUnsupportedMethod, err)

	// A method token longer than four bytes is malformed outright.
	_, err = parse(t, "DELETE / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, ErrMalformedHeaders, err)
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := parse(t, "GET / HTTP/2.0\r\nHost: x\r\n\r\n")
	require.Equal(t, ErrUnsupportedVersion, err)

	_, err = parse(t, "GET / HTTP/1.12\r\nHost: x\r\n\r\n")
	require.Equal(t, ErrUnsupportedVersion, err)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"GARBAGE",
		"GET /\r\n\r\n",
		"GET / HXTP/1.1\r\nHost: x\r\n\r\n",
		"GET / HTTP1.1\r\nHost: x\r\n\r\n",
		"GET / HTTP/1.1\nHost: x\r\n\r\n",
		"GET / HTTP/1.1\r\nHost x\r\n\r\n",
		"GET / HTTP/1.1\r\nContent-Length: abc\r\n\r\n",
	} {
		_, err := parse(t, raw)
		require.Error(t, err, "raw=%q", raw)
	}
}

// Serializing a request from its parts and parsing it back must be the
// identity for every supported method and version.
func TestParseRoundTrip(t *testing.T) {
	methods := map[Method]string{MethodGet: "GET", MethodPut: "PUT", MethodPost: "POST"}
	versions := map[Version]string{Version10: "1.0", Version11: "1.1"}

	for m, mtok := range methods {
		for v, vtok := range versions {
			raw := fmt.Sprintf("%s /some/path HTTP/%s\r\nHost: example.test\r\nConnection: keep-alive\r\nContent-Length: 1234\r\n\r\n",
				mtok, vtok)
			req, err := parse(t, raw)
			require.NoError(t, err)
			require.Equal(t, m, req.Method())
			require.Equal(t, v, req.Version())
			require.Equal(t, "/some/path", string(req.URI()))
			require.Equal(t, "example.test", string(req.Host()))
			require.Equal(t, ConnectionKeepAlive, req.Connection())
			require.Equal(t, uint64(1234), req.ContentLength())
		}
	}
}

func TestResponseBuilder(t *testing.T) {
	var buf [256]byte
	resp := NewResponse(buf[:], 200, "Okay")
	resp.AddHeaderFieldUint("Content-Length", 3145728)
	resp.AddHeaderField("Connection", "keep-alive")
	out := resp.Finish()
	require.Equal(t,
		"HTTP/1.1 200 Okay\r\nContent-Length: 3145728\r\nConnection: keep-alive\r\n\r\n",
		string(out))
}

func TestResponseBuilderOverflowPanics(t *testing.T) {
	var buf [16]byte
	require.Panics(t, func() {
		resp := NewResponse(buf[:], 200, "Okay")
		resp.AddHeaderField("Connection", "keep-alive")
	})
}

func TestParseUint(t *testing.T) {
	n, ok := parseUint([]byte("18446744073709551615"))
	require.True(t, ok)
	require.Equal(t, uint64(18446744073709551615), n)

	_, ok = parseUint([]byte(""))
	require.False(t, ok)
	_, ok = parseUint([]byte("12a"))
	require.False(t, ok)
}
