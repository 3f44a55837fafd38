package store

import "errors"

var (
	// ErrNotFound is returned when no snapshot is stored for a printer.
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable wraps connection failures of the backing store.
	ErrUnavailable = errors.New("store: unavailable")
)
