package plain

import "errors"

var (
	// ErrAlreadyRegistered is returned by Add when the descriptor already
	// has a registration. A second registration is a caller bug.
	ErrAlreadyRegistered = errors.New("file descriptor is already registered")

	// ErrNotActive is returned by Modify and Remove when the descriptor has
	// no active registration.
	ErrNotActive = errors.New("file descriptor is not active")

	// ErrDescriptorOutOfRange is returned when a descriptor does not fit
	// the table sized from RLIMIT_NOFILE at startup.
	ErrDescriptorOutOfRange = errors.New("file descriptor out of table bounds")

	// ErrSignalPairCorrupt means the control stream delivered a word that
	// cannot be resumed. The loop cannot continue past it.
	ErrSignalPairCorrupt = errors.New("signal pair stream corrupt")
)
