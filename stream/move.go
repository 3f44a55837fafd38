package stream

import (
	"strings"

	"github.com/256dpi/gcode"
)

// Vector3 is a point in machine coordinates.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// PrinterMove is the last commanded destination of the machine.
type PrinterMove struct {
	Position  Vector3 `json:"position"`
	Extrusion float64 `json:"extrusion"`
	FeedRate  float64 `json:"feed_rate"`
}

// moveTracker follows the commanded position through absolute and relative modes.
type moveTracker struct {
	last      PrinterMove
	relative  bool
	relativeE bool
}

// isMovement reports whether line is a G0 or G1 command.
func isMovement(line string) bool {
	return hasCommand(line, "G0") || hasCommand(line, "G1")
}

// hasCommand reports whether the first word of line is cmd.
func hasCommand(line string, cmd string) bool {
	if !strings.HasPrefix(line, cmd) {
		return false
	}
	rest := line[len(cmd):]

	return rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == ';'
}

// observe updates the tracked destination from one outgoing line.
func (t *moveTracker) observe(line string) {
	line = strings.TrimSpace(line)
	switch {
	case hasCommand(line, "G90"):
		t.relative = false
		return
	case hasCommand(line, "G91"):
		t.relative = true
		return
	case hasCommand(line, "M82"):
		t.relativeE = false
		return
	case hasCommand(line, "M83"):
		t.relativeE = true
		return
	case !isMovement(line):
		return
	}

	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	parsed, err := gcode.ParseLine(line)
	if err != nil {
		return
	}

	next := t.last
	for _, code := range parsed.Codes {
		switch strings.ToUpper(code.Letter) {
		case "X":
			next.Position.X = t.axis(t.last.Position.X, code.Value, t.relative)
		case "Y":
			next.Position.Y = t.axis(t.last.Position.Y, code.Value, t.relative)
		case "Z":
			next.Position.Z = t.axis(t.last.Position.Z, code.Value, t.relative)
		case "E":
			next.Extrusion = t.axis(t.last.Extrusion, code.Value, t.relative || t.relativeE)
		case "F":
			next.FeedRate = code.Value
		}
	}
	t.last = next
}

func (t *moveTracker) axis(cur float64, value float64, relative bool) float64 {
	if relative {
		return cur + value
	}

	return value
}
