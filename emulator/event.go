package emulator

// EventKind identifies a machine state change raised by the emulator.
type EventKind uint8

const (
	// ReceivedInstruction is raised for every non-empty inbound line, before validation.
	ReceivedInstruction EventKind = iota
	// ExtruderIndexChanged is raised when T<n> selects an extruder.
	ExtruderIndexChanged
	// ExtruderTemperatureChanged is raised when an extruder target is set.
	ExtruderTemperatureChanged
	// BedTemperatureChanged is raised when the bed target is set.
	BedTemperatureChanged
	// FanSpeedChanged is raised by M106 and M107.
	FanSpeedChanged
	// ZPositionChanged is raised when a command changes Z.
	ZPositionChanged
	// EPositionChanged is raised when a command changes the active extruder position.
	EPositionChanged
)

func (k EventKind) String() string {
	switch k {
	case ReceivedInstruction:
		return "received_instruction"
	case ExtruderIndexChanged:
		return "extruder_index_changed"
	case ExtruderTemperatureChanged:
		return "extruder_temperature_changed"
	case BedTemperatureChanged:
		return "bed_temperature_changed"
	case FanSpeedChanged:
		return "fan_speed_changed"
	case ZPositionChanged:
		return "z_position_changed"
	case EPositionChanged:
		return "e_position_changed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a typed state change notification.
type Event struct {
	Kind EventKind `json:"kind"`
	// Extruder is the extruder index for extruder events.
	Extruder int `json:"extruder"`
	// Value carries the new temperature target, fan speed, Z or E position.
	Value float64 `json:"value"`
	// Line is the raw inbound line for ReceivedInstruction.
	Line string `json:"line,omitempty"`
}

// EventHandler receives emulator events.
//
// Handlers are invoked synchronously from the pipeline task in emission order.
// Take care with long-running implementations.
type EventHandler func(evt Event)
