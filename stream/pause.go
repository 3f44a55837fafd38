package stream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-gcodelink/internal/queue"
	"github.com/arloliu/go-gcodelink/internal/util"
	"github.com/arloliu/go-gcodelink/logger"
)

const (
	// PauseMarker is the internal line that ends an injected pause sequence.
	// It never leaves the pause stage.
	PauseMarker = "MH_PAUSE"

	// KeepAliveIdle is how long the stage stays parked before it nudges the X axis.
	KeepAliveIdle = 10 * time.Second

	// EndstopPollInterval is the minimum time between M119 sensor queries.
	EndstopPollInterval = 5 * time.Second

	// DefaultPerimeterSpeed is the resume nudge speed in mm/s when none is configured.
	DefaultPerimeterSpeed = 30.0

	keepAliveDistance = 0.1
)

// PauseState is the state of a PauseHandler.
type PauseState int32

const (
	Running PauseState = iota
	PauseInjecting
	Paused
	Resuming
)

func (s PauseState) String() string {
	switch s {
	case Running:
		return "running"
	case PauseInjecting:
		return "pause_injecting"
	case Paused:
		return "paused"
	case Resuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PauseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PauseState) UnmarshalText(text []byte) error {
	for st := Running; st <= Resuming; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}

	return fmt.Errorf("stream: unknown pause state %q", text)
}

// PauseReason is why a pause sequence started.
type PauseReason int

const (
	UserRequested PauseReason = iota
	PauseLayerReached
	GCodeRequest
	FilamentRunout
)

func (r PauseReason) String() string {
	switch r {
	case UserRequested:
		return "user_requested"
	case PauseLayerReached:
		return "pause_layer_reached"
	case GCodeRequest:
		return "gcode_request"
	case FilamentRunout:
		return "filament_runout"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r PauseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *PauseReason) UnmarshalText(text []byte) error {
	for reason := UserRequested; reason <= FilamentRunout; reason++ {
		if reason.String() == string(text) {
			*r = reason
			return nil
		}
	}

	return fmt.Errorf("stream: unknown pause reason %q", text)
}

// Axis names a machine axis for manual moves.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisE Axis = "E"
)

// FeedRates are manual movement speeds in mm/min.
type FeedRates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	E float64 `json:"e"`
}

// DefaultFeedRates are the manual movement speeds used when none are configured.
var DefaultFeedRates = FeedRates{X: 3000, Y: 3000, Z: 315, E: 150}

// PauseSettings is the read-only printer configuration consumed by the pause stage.
type PauseSettings struct {
	// PauseGCode runs before the stage parks. Lines may be separated by newlines or a
	// literal "\n".
	PauseGCode string `json:"pause_gcode"`
	// ResumeGCode runs after the head is back at the pause position.
	ResumeGCode string `json:"resume_gcode"`
	// LayersToPause are zero based layer indexes that trigger a pause.
	LayersToPause []int `json:"layers_to_pause"`
	// FilamentRunoutSensor enables M119 polling and runout pauses.
	FilamentRunoutSensor bool `json:"filament_runout_sensor"`
	// ManualFeedRates are used for the keep-alive nudge and the resume moves.
	ManualFeedRates FeedRates `json:"manual_feed_rates"`
	// PerimeterSpeed in mm/s sets the feed rate of the resume nudge.
	PerimeterSpeed float64 `json:"perimeter_speed"`
}

// Controller is the printer connection seen from the pause stage.
type Controller interface {
	// IsPrinting reports whether a print job is running.
	IsPrinting() bool
	// SetPaused moves the connection into its paused communication state.
	SetPaused()
	// QueueLine sends line ahead of the job.
	QueueLine(line string)
	// MoveRelative queues a relative move of one axis.
	MoveRelative(axis Axis, amount float64, feedRate float64)
}

// PauseEvent describes a pause state transition.
type PauseEvent struct {
	State  PauseState  `json:"state"`
	Reason PauseReason `json:"reason"`
	// Layer is the one based layer label for PauseLayerReached.
	Layer string `json:"layer,omitempty"`
	// Position is the captured end-of-pause position for Paused and Resuming.
	Position PrinterMove `json:"position"`
	Time     time.Time   `json:"time"`
}

// PauseEventHandler receives pause transitions. It is called without the stage lock held.
type PauseEventHandler func(evt PauseEvent)

// PauseHandler is the pause/resume stage of the pipeline.
//
// NextLine must be called from a single goroutine. DoPause, Resume and
// HandleLineReceived may be called from any goroutine.
type PauseHandler struct {
	inner    LineSource
	ctrl     Controller
	settings PauseSettings
	layers   map[int]struct{}
	macros   MacroReplacer
	now      func() time.Time
	logger   logger.Logger

	queue *queue.Deque[string]

	mu            sync.Mutex
	state         PauseState
	reason        PauseReason
	layer         string
	tracker       moveTracker
	pausePosition PrinterMove
	lastSend      time.Time
	lastEndstop   time.Time

	outOfFilament atomic.Bool

	handlerMu sync.RWMutex
	handlers  []PauseEventHandler
}

var _ LineSource = (*PauseHandler)(nil)

// NewPauseHandler returns a pause stage over inner. ctrl may be nil in which case no
// connection side effects happen.
func NewPauseHandler(inner LineSource, ctrl Controller, settings PauseSettings, opts ...PauseOption) (*PauseHandler, error) {
	cfg := defaultPauseConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if settings.ManualFeedRates == (FeedRates{}) {
		settings.ManualFeedRates = DefaultFeedRates
	}
	if settings.PerimeterSpeed <= 0 {
		settings.PerimeterSpeed = DefaultPerimeterSpeed
	}

	ph := &PauseHandler{
		inner:    inner,
		ctrl:     ctrl,
		settings: settings,
		layers:   make(map[int]struct{}, len(settings.LayersToPause)),
		macros:   cfg.macros,
		now:      cfg.now,
		logger:   cfg.logger.With("component", "pause"),
		queue:    queue.NewDeque[string](16),
	}
	for _, l := range settings.LayersToPause {
		ph.layers[l] = struct{}{}
	}
	ph.lastSend = ph.now()

	return ph, nil
}

// AddPauseHandler registers handlers for pause transitions.
func (ph *PauseHandler) AddPauseHandler(handlers ...PauseEventHandler) {
	ph.handlerMu.Lock()
	defer ph.handlerMu.Unlock()

	ph.handlers = append(ph.handlers, handlers...)
}

// State returns the current pause state.
func (ph *PauseHandler) State() PauseState {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	return ph.state
}

// LastDestination returns the tracked commanded position.
func (ph *PauseHandler) LastDestination() PrinterMove {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	return ph.tracker.last
}

// PausePosition returns the position captured when the pause marker was reached.
func (ph *PauseHandler) PausePosition() PrinterMove {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	return ph.pausePosition
}

// SetPrinterPosition seeds position tracking, typically after homing or an M114 reply.
func (ph *PauseHandler) SetPrinterPosition(pos PrinterMove) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.tracker.last = pos
}

// Pending returns the number of injected lines not yet sent.
func (ph *PauseHandler) Pending() int {
	return ph.queue.Length()
}

// HandleLineReceived inspects a device response for the filament sensor state.
// The flag it sets is consumed by the next NextLine call.
func (ph *PauseHandler) HandleLineReceived(line string) {
	if strings.Contains(line, "ros_") && strings.Contains(line, "TRIGGERED") {
		ph.outOfFilament.Store(true)
	}
}

// DoPause starts a pause sequence: the pause macro, a position query and the pause
// marker are queued ahead of the job.
func (ph *PauseHandler) DoPause(reason PauseReason, layer string) error {
	ph.mu.Lock()
	evt, err := ph.startPauseLocked(reason, layer)
	ph.mu.Unlock()

	if err != nil {
		return err
	}
	ph.notify(evt)

	return nil
}

// Resume replays the move back to the pause position followed by the resume macro.
func (ph *PauseHandler) Resume() error {
	ph.mu.Lock()
	if ph.state != Paused {
		ph.mu.Unlock()
		return ErrNotPaused
	}

	pos := ph.pausePosition
	feed := ph.settings.ManualFeedRates.X
	nudgeFeed := util.FormatNumber(ph.settings.PerimeterSpeed*60, 3)
	corrected := pos.Position.Add(Vector3{X: .01, Y: .01, Z: .01})

	ph.injectLocked(fmt.Sprintf("G92 E%s", util.FormatNumber(pos.Extrusion, 3)))
	// the corrective move is sent twice, a lone move to the current position can be dropped downstream
	ph.injectLocked(formatMove(corrected, feed+1))
	ph.injectLocked(formatMove(pos.Position, feed))
	ph.injectLocked(ph.settings.ResumeGCode)
	ph.injectLocked("M114")
	ph.injectLocked("G91")
	ph.injectLocked("G1 X.1 F" + nudgeFeed)
	ph.injectLocked("G1 X-.1 F" + nudgeFeed)
	ph.injectLocked("G90")

	ph.state = Resuming
	evt := ph.eventLocked()
	ph.mu.Unlock()

	ph.logger.Info("resuming print", "x", pos.Position.X, "y", pos.Position.Y, "z", pos.Position.Z, "e", pos.Extrusion)
	ph.notify(evt)

	return nil
}

// Reset drops injected lines and returns to Running. Used when a job is canceled.
func (ph *PauseHandler) Reset() {
	ph.queue.Reset()
	ph.outOfFilament.Store(false)

	ph.mu.Lock()
	prev := ph.state
	ph.state = Running
	evt := ph.eventLocked()
	ph.mu.Unlock()

	if prev != Running {
		ph.notify(evt)
	}
}

// InjectPauseGCode queues macro text behind any lines already injected.
//
// Macros are expanded, a literal "\n" splits lines, comments are dropped and every
// remaining line is trimmed and upper-cased.
func (ph *PauseHandler) InjectPauseGCode(code string) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.injectLocked(code)
}

// NextLine implements LineSource.
func (ph *PauseHandler) NextLine() (string, bool) {
	var (
		line    string
		ok      = true
		events  []PauseEvent
		actions []func()
	)

	if ph.outOfFilament.CompareAndSwap(true, false) {
		ph.mu.Lock()
		evt, err := ph.startPauseLocked(FilamentRunout, "")
		ph.mu.Unlock()
		if err == nil {
			ph.notify(evt)
			return "", true
		}
	}

	injected, fromQueue := ph.queue.Dequeue()

	ph.mu.Lock()
	now := ph.now()

	switch {
	case fromQueue:
		line = injected
	case ph.state == Paused || ph.state == PauseInjecting:
		if now.Sub(ph.lastSend) > KeepAliveIdle {
			ph.lastSend = now
			actions = append(actions, ph.keepAlive)
		}
		ph.mu.Unlock()
		ph.run(actions)

		return "", true
	default:
		if ph.state == Resuming {
			ph.state = Running
			events = append(events, ph.eventLocked())
		}
		ph.mu.Unlock()

		line, ok = ph.inner.NextLine()

		ph.mu.Lock()
		now = ph.now()
		if ok {
			ph.lastSend = now
			if ph.settings.FilamentRunoutSensor && ph.ctrl != nil &&
				(ph.lastEndstop.IsZero() || now.Sub(ph.lastEndstop) > EndstopPollInterval) {
				ph.lastEndstop = now
				actions = append(actions, func() { ph.ctrl.QueueLine("M119") })
			}
		}
	}

	if !ok {
		ph.mu.Unlock()
		ph.notifyAll(events)

		return "", false
	}

	trimmed := strings.TrimSpace(line)
	switch {
	case isLayerChange(trimmed):
		if layer, pause := ph.layerPauseLocked(trimmed); pause {
			if evt, err := ph.startPauseLocked(PauseLayerReached, layer); err == nil {
				events = append(events, evt)
			}
		}
	case strings.HasPrefix(trimmed, "M226") || strings.HasPrefix(trimmed, "@pause"):
		if evt, err := ph.startPauseLocked(GCodeRequest, ""); err == nil {
			events = append(events, evt)
		}
		line = ""
	case trimmed == PauseMarker:
		ph.pausePosition = ph.tracker.last
		ph.state = Paused
		events = append(events, ph.eventLocked())
		if ph.ctrl != nil {
			actions = append(actions, func() {
				if ph.ctrl.IsPrinting() {
					ph.ctrl.SetPaused()
				}
			})
		}
		line = ""
	}

	if line != "" {
		ph.tracker.observe(line)
	}
	ph.mu.Unlock()

	ph.run(actions)
	ph.notifyAll(events)

	return line, true
}

func (ph *PauseHandler) startPauseLocked(reason PauseReason, layer string) (PauseEvent, error) {
	if ph.state != Running {
		return PauseEvent{}, ErrPauseInProgress
	}

	ph.logger.Info("pausing print", "reason", reason.String(), "layer", layer)

	ph.injectLocked(ph.settings.PauseGCode)
	ph.injectLocked("M114")
	ph.injectLocked(PauseMarker)

	ph.state = PauseInjecting
	ph.reason = reason
	ph.layer = layer

	return ph.eventLocked(), nil
}

func (ph *PauseHandler) injectLocked(code string) {
	code = ph.macros.ReplaceMacros(code)
	code = strings.ReplaceAll(code, `\n`, "\n")

	for _, line := range strings.Split(code, "\n") {
		line, _, _ = strings.Cut(line, ";")
		line = strings.ToUpper(strings.TrimSpace(line))
		if line != "" {
			ph.queue.Enqueue(line)
		}
	}
}

func (ph *PauseHandler) layerPauseLocked(line string) (string, bool) {
	_, num, _ := strings.Cut(line, ":")
	layer, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return "", false
	}
	if _, ok := ph.layers[layer]; !ok || !pauseAllowed(ph.inner) {
		return "", false
	}

	// labels are one based
	return strconv.Itoa(layer + 1), true
}

func (ph *PauseHandler) keepAlive() {
	if ph.ctrl == nil {
		return
	}

	feed := ph.settings.ManualFeedRates.X
	ph.ctrl.MoveRelative(AxisX, keepAliveDistance, feed)
	ph.ctrl.MoveRelative(AxisX, -keepAliveDistance, feed)
}

func (ph *PauseHandler) eventLocked() PauseEvent {
	return PauseEvent{
		State:    ph.state,
		Reason:   ph.reason,
		Layer:    ph.layer,
		Position: ph.pausePosition,
		Time:     ph.now(),
	}
}

func (ph *PauseHandler) run(actions []func()) {
	for _, fn := range actions {
		fn()
	}
}

func (ph *PauseHandler) notifyAll(events []PauseEvent) {
	for _, evt := range events {
		ph.notify(evt)
	}
}

func (ph *PauseHandler) notify(evt PauseEvent) {
	ph.handlerMu.RLock()
	handlers := util.CloneSlice(ph.handlers, 0)
	ph.handlerMu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(evt)
		}
	}
}

func isLayerChange(line string) bool {
	return strings.HasPrefix(line, "; LAYER:") || strings.HasPrefix(line, ";LAYER:")
}

func formatMove(pos Vector3, feed float64) string {
	return fmt.Sprintf("G1 X%s Y%s Z%s F%s",
		util.FormatNumber(pos.X, 3),
		util.FormatNumber(pos.Y, 3),
		util.FormatNumber(pos.Z, 3),
		util.FormatNumber(feed, 3))
}
