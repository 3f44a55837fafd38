// Package emulator provides a simulated 3D printer controller that speaks the
// numbered G-code line protocol.
//
// An [Emulator] stands in for a serial-attached device. Hosts submit raw lines with
// [Emulator.Submit] and collect replies with [Emulator.TakeResponse], or use the
// [Port] adapter which exposes the same traffic as an io.ReadWriteCloser.
//
// # Processing model
//
// Two owned background tasks run while the emulator is open:
//
//   - the pipeline task drains the inbound queue, validates numbered lines against the
//     protocol cursor, dispatches each command to its handler and queues the response;
//   - the DTR task mirrors the host controlled DTR line into the DSR state.
//
// [Emulator.Shutdown] stops intake; the pipeline task finishes the lines already queued
// and then the emulator transitions to closed.
//
// # Commands
//
// The emulator recognizes G0, G1, G4, G28, G30, G90, G91, G92, M20, M21, M82, M83,
// M104, M105, M106, M107, M109, M110, M114, M115, M119, M140, M190, T<n> and the echo
// command A. Any other command is acknowledged with "ok".
package emulator
