package plain

import "time"

type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		IdleTimeout:      DefaultIdleTimeout,
		LoopTick:         DefaultLoopTick,
		EventHandleCount: DefaultEventHandleCount,
		PollEventsSize:   DefaultPollEventsSize,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger
	}
	return opts
}

type Options struct {
	Logger Logger

	// IdleTimeout is the default deadline added when a descriptor acquires
	// the Timeout interest bit.
	IdleTimeout time.Duration

	// LoopTick bounds how long one Update may block waiting for readiness.
	// It also bounds how late the timeout wheel is drained.
	LoopTick time.Duration

	// EventHandleCount is the number of queued descriptors run between two
	// readiness waits. A higher number means fewer system calls but higher
	// potential latency.
	EventHandleCount int

	// PollEventsSize is the size of the buffer handed to the kernel wait.
	PollEventsSize int

	// MaxDescriptors caps the registration table size; 0 means the soft
	// RLIMIT_NOFILE limit.
	MaxDescriptors int
}

func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = d
	}
}

func WithLoopTick(d time.Duration) Option {
	return func(opts *Options) {
		opts.LoopTick = d
	}
}

func WithEventHandleCount(n int) Option {
	return func(opts *Options) {
		opts.EventHandleCount = n
	}
}

func WithPollEventsSize(n int) Option {
	return func(opts *Options) {
		opts.PollEventsSize = n
	}
}

func WithMaxDescriptors(n int) Option {
	return func(opts *Options) {
		opts.MaxDescriptors = n
	}
}
