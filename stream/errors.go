package stream

import "errors"

var (
	// ErrNotPaused is returned by Resume when the stage is not in the Paused state.
	ErrNotPaused = errors.New("stream: not paused")

	// ErrPauseInProgress is returned by DoPause while a pause sequence is already running.
	ErrPauseInProgress = errors.New("stream: pause already in progress")
)
