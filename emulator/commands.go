package emulator

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-gcodelink/internal/pool"
	"github.com/arloliu/go-gcodelink/internal/util"
)

// commandHandler runs one decoded command and returns the text to send before the
// acknowledgment. Returned events are raised after the machine state lock is released.
type commandHandler func(e *Emulator, key string, line string) (string, []Event, error)

const (
	firmwareInfo = "FIRMWARE_NAME:Marlin V1; Sprinter/grbl mashup for gen6 " +
		"FIRMWARE_URL:https://github.com/MarlinFirmware/Marlin " +
		"PROTOCOL_VERSION:1.0 MACHINE_TYPE:Framelis v1 EXTRUDER_COUNT:1 " +
		"UUID:155f84b5-d4d7-46f4-9432-667e6876f37a"

	okResponse = "ok\n"
)

var sdCardListing = []string{
	"Begin file list\n",
	"Item 1.gcode\n",
	"Item 2.gcode\n",
	"End file list\n",
}

func newCommandTable() map[string]commandHandler {
	return map[string]commandHandler{
		"A":    handleEcho,
		"G0":   handleMove,
		"G1":   handleMove,
		"G4":   handleDwell,
		"G28":  handleHome,
		"G30":  handleProbe,
		"G90":  handlePositioning,
		"G91":  handlePositioning,
		"G92":  handleMove,
		"M20":  handleListSDCard,
		"M21":  handleInitSDCard,
		"M82":  handlePositioning,
		"M83":  handlePositioning,
		"M104": handleExtruderTemp,
		"M105": handleReportTemp,
		"M106": handleFanSpeed,
		"M107": handleFanOff,
		"M109": handleExtruderTemp,
		"M110": handleSetLineNumber,
		"M114": handleReportPosition,
		"M115": handleFirmwareInfo,
		"M119": handleEndstops,
		"M140": handleBedTemp,
		"M190": handleBedTemp,
		"T":    handleSelectExtruder,
	}
}

// commandKey reduces a decoded line to its dispatch key.
func commandKey(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}

	key := strings.ToUpper(fields[0])
	if len(key) > 1 && key[0] == 'T' {
		if _, err := strconv.Atoi(key[1:]); err == nil {
			return "T"
		}
	}

	return key
}

// stripComment removes a trailing ';' comment and surrounding blanks.
func stripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}

	return strings.TrimSpace(line)
}

// dispatch runs the handler for one decoded payload and returns the full response.
func (e *Emulator) dispatch(payload string) string {
	line := stripComment(payload)
	key := commandKey(line)
	if key == "" {
		return okResponse
	}

	handler, ok := e.commands[key]
	if !ok {
		e.metrics.incUnknownCmdCount()
		e.logger.Debug("unknown command acknowledged", "command", line)

		return okResponse
	}

	if key != "G0" && key != "G1" && key != "M105" {
		e.logger.Debug("command", "key", key, "line", line)
	}
	if e.cfg.runSlow {
		pool.Sleep(e.cfg.slowDelay)
	}

	e.metrics.incCommandCount(key)
	result, events, err := e.runHandler(handler, key, line)
	for _, evt := range events {
		e.emit(evt)
	}
	if err != nil {
		e.metrics.incHandlerErrCount()
		e.logger.Error("command failed", "command", line, "error", err)

		return okResponse
	}

	return composeResponse(result)
}

func (e *Emulator) runHandler(handler commandHandler, key string, line string) (result string, events []Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, events = "", nil
			err = fmt.Errorf("panic in %s handler: %v", key, r)
		}
	}()

	return handler(e, key, line)
}

func composeResponse(result string) string {
	switch {
	case result == "":
		return okResponse
	case strings.HasSuffix(result, "\n"):
		return result
	default:
		return result + "\nok\n"
	}
}

// argAfter returns the number following letter. Letters inside the command key are
// not considered, so "G1 X5" never matches the '1' of G1 for an axis search.
func argAfter(letter string, line string) (float64, bool) {
	_, args, found := strings.Cut(line, " ")
	if !found {
		return 0, false
	}

	return util.FirstNumberAfter(letter, args)
}

func handleEcho(_ *Emulator, _ string, line string) (string, []Event, error) {
	return line, nil, nil
}

func handleMove(e *Emulator, key string, line string) (string, []Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	relative := e.relative && key != "G92"

	apply := func(axis string, cur float64) float64 {
		v, ok := argAfter(axis, line)
		if !ok {
			return cur
		}
		if relative {
			return cur + v
		}
		return v
	}

	e.x = apply("X", e.x)
	e.y = apply("Y", e.y)
	if z := apply("Z", e.z); z != e.z {
		e.z = z
		events = append(events, Event{Kind: ZPositionChanged, Value: z})
	}

	v, ok := argAfter("E", line)
	if !ok {
		return "", events, nil
	}

	ex := e.extruders[e.active]
	newE := v
	if (e.relative || e.relativeE) && key != "G92" {
		newE = ex.ePos + v
	}

	switch key {
	case "G1":
		ex.lastEPos = ex.ePos
		ex.ePos = newE
		ex.absoluteE += ex.ePos - ex.lastEPos
	case "G92":
		ex.ePos = newE
		ex.lastEPos = newE
	default:
		ex.ePos = newE
	}
	events = append(events, Event{Kind: EPositionChanged, Extruder: e.active, Value: ex.ePos})

	return "", events, nil
}

func handleHome(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.x, e.y, e.z = 0, 0, 0

	return "", []Event{{Kind: ZPositionChanged, Value: 0}}, nil
}

func handleDwell(_ *Emulator, _ string, line string) (string, []Event, error) {
	if s, ok := argAfter("S", line); ok {
		pool.Sleep(time.Duration(s * float64(time.Second)))
	} else if p, ok := argAfter("P", line); ok {
		pool.Sleep(time.Duration(p * float64(time.Millisecond)))
	}

	return "", nil, nil
}

func handlePositioning(e *Emulator, key string, _ string) (string, []Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch key {
	case "G90":
		e.relative = false
	case "G91":
		e.relative = true
	case "M82":
		e.relativeE = false
	case "M83":
		e.relativeE = true
	}

	return "", nil, nil
}

func handleExtruderTemp(e *Emulator, _ string, line string) (string, []Event, error) {
	target, ok := argAfter("S", line)
	if !ok {
		return "", nil, fmt.Errorf("%w: missing S in %q", ErrBadArgument, line)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	index := e.active
	if t, ok := argAfter("T", line); ok {
		index = int(t)
	}
	if index < 0 {
		return "", nil, fmt.Errorf("%w: negative extruder index in %q", ErrBadArgument, line)
	}
	if err := e.growExtruders(index); err != nil {
		return "", nil, err
	}

	e.extruders[index].heater.SetTarget(target)

	return "", []Event{{Kind: ExtruderTemperatureChanged, Extruder: index, Value: target}}, nil
}

func handleBedTemp(e *Emulator, _ string, line string) (string, []Event, error) {
	if e.bed == nil {
		return "", nil, nil
	}

	target, ok := argAfter("S", line)
	if !ok {
		return "", nil, fmt.Errorf("%w: missing S in %q", ErrBadArgument, line)
	}
	e.bed.SetTarget(target)

	return "", []Event{{Kind: BedTemperatureChanged, Value: target}}, nil
}

func handleReportTemp(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("ok")
	if len(e.extruders) == 1 {
		st := e.extruders[0].heater.Snapshot()
		fmt.Fprintf(&sb, " T:%.1f / %.1f", st.Current, st.Target)
	} else {
		for i, ex := range e.extruders {
			st := ex.heater.Snapshot()
			fmt.Fprintf(&sb, " T%d:%.1f / %.1f", i, st.Current, st.Target)
		}
	}
	if e.bed != nil {
		st := e.bed.Snapshot()
		fmt.Fprintf(&sb, " B: %.1f / %.1f", st.Current, st.Target)
	}
	sb.WriteString("\n")

	return sb.String(), nil, nil
}

func handleFanSpeed(e *Emulator, _ string, line string) (string, []Event, error) {
	_, arg, found := strings.Cut(line, "S")
	if !found {
		return "", nil, fmt.Errorf("%w: missing S in %q", ErrBadArgument, line)
	}
	token, _, _ := strings.Cut(strings.TrimSpace(arg), " ")
	speed, err := strconv.Atoi(token)
	if err != nil {
		return "", nil, fmt.Errorf("%w: fan speed in %q: %w", ErrBadArgument, line, err)
	}

	e.mu.Lock()
	e.fanSpeed = speed
	e.mu.Unlock()

	return "", []Event{{Kind: FanSpeedChanged, Value: float64(speed)}}, nil
}

func handleFanOff(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.mu.Lock()
	e.fanSpeed = 0
	e.mu.Unlock()

	return "", []Event{{Kind: FanSpeedChanged, Value: 0}}, nil
}

func handleProbe(e *Emulator, _ string, _ string) (string, []Event, error) {
	pool.Sleep(e.cfg.probeDelay)

	return fmt.Sprintf("Bed Position X: 0 Y: 0 Z: %.3f\nok\n", rand.Float64()), nil, nil
}

func handleListSDCard(e *Emulator, _ string, _ string) (string, []Event, error) {
	for _, resp := range sdCardListing {
		e.respond(resp)
	}

	return "", nil, nil
}

func handleInitSDCard(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.respond("SD card ok\n")

	return "", nil, nil
}

// handleSetLineNumber handles an un-numbered M110. Numbered M110 lines reset the
// cursor during validation.
func handleSetLineNumber(e *Emulator, _ string, line string) (string, []Event, error) {
	n, ok := argAfter("N", line)
	if !ok {
		return "", nil, nil
	}

	e.cursorMu.Lock()
	e.cursor.Reset(int(n) + 1)
	e.cursorMu.Unlock()

	return "", nil, nil
}

func handleReportPosition(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return fmt.Sprintf("X:%.2f Y: %.2f Z: %.2f E: %.2f Count X: 0.00 Y: 0.00 Z: 0.00\nok\n",
		e.x, e.y, e.z, e.extruders[e.active].ePos), nil, nil
}

func handleFirmwareInfo(_ *Emulator, _ string, _ string) (string, []Event, error) {
	return firmwareInfo + "\nok\n", nil, nil
}

func handleEndstops(e *Emulator, _ string, _ string) (string, []Event, error) {
	e.mu.RLock()
	runout := e.filamentRunout
	e.mu.RUnlock()

	filament := "open"
	if runout {
		filament = "TRIGGERED"
	}

	return "Reporting endstop status\n" +
		"x_min: open\n" +
		"y_min: open\n" +
		"z_min: open\n" +
		"ros_filament: " + filament + "\n" +
		"ok\n", nil, nil
}

func handleSelectExtruder(e *Emulator, key string, line string) (string, []Event, error) {
	fields := strings.Fields(line)
	index, err := strconv.Atoi(fields[0][len(key):])
	if err != nil || index < 0 {
		return "", nil, fmt.Errorf("%w: extruder index in %q", ErrBadArgument, line)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.growExtruders(index); err != nil {
		return "", nil, err
	}
	e.active = index

	return "", []Event{{Kind: ExtruderIndexChanged, Extruder: index, Value: float64(index)}}, nil
}
