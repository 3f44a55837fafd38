package printer

import "errors"

var (
	// ErrInvalidTransition is returned when a communication state change is not permitted.
	ErrInvalidTransition = errors.New("printer: invalid state transition")

	// ErrAlreadyConnected is returned by Connect on an open connection.
	ErrAlreadyConnected = errors.New("printer: already connected")

	// ErrNotConnected is returned by operations that need an open port.
	ErrNotConnected = errors.New("printer: not connected")

	// ErrNotPrinting is returned by Pause and CancelPrint when no job is running.
	ErrNotPrinting = errors.New("printer: not printing")

	// ErrNotPaused is returned by Resume when the connection is not paused.
	ErrNotPaused = errors.New("printer: not paused")

	// ErrBusy is returned by StartPrint while a job is running.
	ErrBusy = errors.New("printer: job in progress")
)
