package printer

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the usual Marlin serial speed.
const DefaultBaudRate = 115200

// OpenSerial opens the serial device at path with 8N1 framing.
//
// The returned port can be passed to New. A baud of zero selects DefaultBaudRate.
func OpenSerial(path string, baud int) (serial.Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrNotConnected, path, err)
	}

	return port, nil
}

// ListSerialPorts returns the serial device names present on the host.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
