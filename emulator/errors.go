package emulator

import "errors"

var (
	// ErrAlreadyOpen is returned by Open when the emulator is not in the closed state.
	ErrAlreadyOpen = errors.New("emulator: already open")

	// ErrClosed is returned by Port operations after the emulator has shut down.
	ErrClosed = errors.New("emulator: closed")

	// ErrBadArgument reports a command argument that could not be parsed.
	ErrBadArgument = errors.New("emulator: bad argument")
)
