package httpd

import (
	"testing"
)

var benchRequest = []byte("GET /some/resource HTTP/1.1\r\nHost: bench.test\r\nConnection: keep-alive\r\nContent-Length: 512\r\nAccept: */*\r\n\r\n")

func BenchmarkParseRequestHeaders(b *testing.B) {
	buf := make([]byte, len(benchRequest))
	var req Request
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// The parser mutates the buffer (key folding), restore it.
		copy(buf, benchRequest)
		req.reset(1)
		if err := ParseRequestHeaders(&req, buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIndexCRLFCRLF(b *testing.B) {
	buf := make([]byte, DefaultBufferSize)
	for i := range buf {
		buf[i] = 'a'
	}
	copy(buf[DefaultBufferSize-4:], crlfcrlf)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if indexCRLFCRLF(buf) < 0 {
			b.Fatal("marker not found")
		}
	}
}

func BenchmarkResponseBuilder(b *testing.B) {
	var buf [256]byte
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp := NewResponse(buf[:], 200, "Okay")
		resp.AddHeaderFieldUint("Content-Length", 3145728)
		resp.AddHeaderField("Connection", "keep-alive")
		resp.Finish()
	}
}
