package httpd

import "plainhttp/plain"

type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		Addr:            ":8080",
		AcceptsPerEvent: DefaultAcceptsPerEvent,
		SpliceCount:     DefaultSpliceCount,
		ChunkSize:       DefaultChunkSize,
		PipeBufferSize:  DefaultPipeBufferSize,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

type Options struct {
	// Addr is the TCP listen address, e.g. ":8080".
	Addr string

	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool

	// AcceptsPerEvent bounds how many connections one listener callback
	// invocation accepts before yielding.
	AcceptsPerEvent int

	// SpliceCount bounds how many splice calls one streaming callback
	// invocation issues before yielding.
	SpliceCount int

	// ChunkSize is the byte count requested per splice call.
	ChunkSize int

	// PipeBufferSize is the requested capacity of the intermediate pipe.
	PipeBufferSize int

	// MaxDescriptors caps the client table size; 0 means the soft
	// RLIMIT_NOFILE limit.
	MaxDescriptors int

	Logger plain.Logger
}

func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

func WithAddr(addr string) Option {
	return func(opts *Options) {
		opts.Addr = addr
	}
}

func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

func WithAcceptsPerEvent(n int) Option {
	return func(opts *Options) {
		opts.AcceptsPerEvent = n
	}
}

func WithSpliceCount(n int) Option {
	return func(opts *Options) {
		opts.SpliceCount = n
	}
}

func WithChunkSize(n int) Option {
	return func(opts *Options) {
		opts.ChunkSize = n
	}
}

func WithPipeBufferSize(n int) Option {
	return func(opts *Options) {
		opts.PipeBufferSize = n
	}
}

func WithMaxDescriptors(n int) Option {
	return func(opts *Options) {
		opts.MaxDescriptors = n
	}
}

func WithLogger(logger plain.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
