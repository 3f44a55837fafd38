// Package stream implements the host-side G-code line pipeline.
//
// A pipeline is a chain of [LineSource] stages. Each stage owns exactly one inner source
// and composes by delegation:
//
//	QueuedCommands -> PauseHandler -> Switcher -> job LineSource
//
// The outermost stage is pulled one line at a time by a single consumer, normally the
// sender task of a printer connection.
//
// [QueuedCommands] splices operator and macro lines ahead of the job. [PauseHandler]
// tracks the commanded position of every movement line and runs the pause/resume state
// machine: it injects the pause macro, parks the stream while paused and replays the
// resume sequence.
package stream
