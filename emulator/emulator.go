package emulator

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-gcodelink/heater"
	"github.com/arloliu/go-gcodelink/internal/queue"
	"github.com/arloliu/go-gcodelink/internal/task"
	"github.com/arloliu/go-gcodelink/internal/util"
	"github.com/arloliu/go-gcodelink/lineproto"
	"github.com/arloliu/go-gcodelink/logger"
)

// Banner is the first line an emulator sends after construction or a simulated reboot.
const Banner = "Emulator v0.1\n"

// Position is the commanded machine position. E belongs to the active extruder.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	E float64 `json:"e"`
}

// ExtruderState is a snapshot of one extruder.
type ExtruderState struct {
	heater.State
	Index int `json:"index"`
	// EPosition is the raw filament position.
	EPosition float64 `json:"e_position"`
	// LastEPosition is the filament position before the last E change.
	LastEPosition float64 `json:"last_e_position"`
	// AbsoluteEPosition is the total filament extruded by G1 moves.
	AbsoluteEPosition float64 `json:"absolute_e_position"`
}

type extruder struct {
	heater    *heater.Heater
	ePos      float64
	lastEPos  float64
	absoluteE float64
}

// Emulator is a simulated printer controller.
//
// Construct it with New, start it with Open and stop it with Shutdown or Close.
type Emulator struct {
	cfg     *config
	logger  logger.Logger
	taskMgr *task.Manager
	opState atomicOpState
	metrics *Metrics

	inbound  *queue.Deque[string]
	outbound *queue.Deque[string]

	cursorMu sync.Mutex
	cursor   lineproto.Cursor

	commands map[string]commandHandler

	// machine state, written by command handlers on the pipeline task
	mu             sync.RWMutex
	x, y, z        float64
	relative       bool
	relativeE      bool
	extruders      []*extruder
	active         int
	bed            *heater.Heater
	fanSpeed       int
	filamentRunout bool

	handlerMu sync.RWMutex
	handlers  []EventHandler

	dtr            atomic.Bool
	dsr            atomic.Bool
	dsrChangeCount atomic.Int64

	shuttingDown atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
}

// New creates an Emulator with one extruder and, unless disabled, a heated bed.
// The banner line is already queued for the host. Call Open to start processing.
func New(opts ...Option) (*Emulator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	e := &Emulator{
		cfg:      cfg,
		logger:   cfg.logger.With("component", "emulator"),
		metrics:  newMetrics(),
		inbound:  queue.NewDeque[string](64),
		outbound: queue.NewDeque[string](64),
		commands: newCommandTable(),
		done:     make(chan struct{}),
	}
	e.taskMgr = task.NewManager(cfg.ctx, e.logger)
	e.opState.state.Store(uint32(ClosedState))

	if err := e.growExtruders(0); err != nil {
		return nil, err
	}
	if cfg.hasHeatedBed {
		bed, err := heater.New("HeatedBed", DefaultBedTemp, cfg.heaterOpts...)
		if err != nil {
			e.stopHeaters()
			return nil, fmt.Errorf("emulator: create bed heater: %w", err)
		}
		e.bed = bed
	}

	e.outbound.Enqueue(Banner)

	return e, nil
}

// Open starts the pipeline and DTR tasks.
func (e *Emulator) Open() error {
	if e.shuttingDown.Load() {
		return ErrClosed
	}
	if !e.opState.ToOpening() {
		return ErrAlreadyOpen
	}

	mode := "fast"
	if e.cfg.runSlow {
		mode = "slow"
	}
	e.logger.Info("initializing emulator", "speed", mode)

	if _, err := e.taskMgr.StartInterval("emulator-dtr", e.mirrorDTR, e.cfg.dtrInterval, false); err != nil {
		e.opState.ToClosing()
		e.opState.ToClosed()
		return fmt.Errorf("emulator: start DTR task: %w", err)
	}

	if err := e.taskMgr.StartWithExit("emulator-pipeline", e.drainOnce, e.onPipelineExit); err != nil {
		e.taskMgr.Stop()
		e.opState.ToClosing()
		e.opState.ToClosed()
		return fmt.Errorf("emulator: start pipeline task: %w", err)
	}

	e.opState.ToOpened()

	return nil
}

// IsOpen reports whether the pipeline task is running.
func (e *Emulator) IsOpen() bool {
	return e.opState.Get() == OpenedState
}

// State returns the lifecycle state.
func (e *Emulator) State() OpState {
	return e.opState.Get()
}

// Submit enqueues one inbound line for processing. It never blocks.
func (e *Emulator) Submit(raw string) {
	e.inbound.Enqueue(raw)
}

// HasResponse reports whether a response is waiting.
func (e *Emulator) HasResponse() bool {
	return !e.outbound.IsEmpty()
}

// BytesToRead returns the length of the next queued response, or 0 when none is queued.
func (e *Emulator) BytesToRead() int {
	resp, ok := e.outbound.Peek()
	if !ok {
		return 0
	}

	return len(resp)
}

// TakeResponse dequeues one response.
//
// Callers must check HasResponse or BytesToRead first; on an empty queue the result is
// the empty string.
func (e *Emulator) TakeResponse() string {
	resp, _ := e.outbound.Dequeue()
	return resp
}

// Responses returns the outbound wake channel. It receives after a response is queued.
func (e *Emulator) Responses() <-chan struct{} {
	return e.outbound.Wait()
}

// Shutdown stops intake and stops all heaters.
//
// Lines already submitted are still processed; the emulator becomes closed once the
// pipeline task has drained them. Shutdown is idempotent and does not block.
func (e *Emulator) Shutdown() {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	e.logger.Debug("emulator shutting down", "opState", e.opState.String())
	e.stopHeaters()

	if e.opState.Get() == ClosedState {
		// never opened, no task to wait for
		e.closeOnce.Do(func() { close(e.done) })
		return
	}

	e.inbound.Signal()
}

// Done returns a channel that is closed when the emulator has fully stopped.
func (e *Emulator) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the emulator has fully stopped.
func (e *Emulator) Wait() {
	<-e.done
	e.taskMgr.Wait()
}

// Close shuts the emulator down and waits for its tasks to exit.
func (e *Emulator) Close() error {
	e.Shutdown()
	e.Wait()

	return nil
}

// Metrics returns the emulator counters.
func (e *Emulator) Metrics() *Metrics {
	return e.metrics
}

// AddEventHandler registers handlers that receive every subsequent event.
func (e *Emulator) AddEventHandler(handlers ...EventHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	e.handlers = append(e.handlers, handlers...)
}

// SetDTR sets the host controlled DTR line.
func (e *Emulator) SetDTR(dtr bool) {
	e.dtr.Store(dtr)
}

// DSR returns the mirrored DSR state.
func (e *Emulator) DSR() bool {
	return e.dsr.Load()
}

// DSRChangeCount returns how many times DSR changed.
func (e *Emulator) DSRChangeCount() int64 {
	return e.dsrChangeCount.Load()
}

// SimulateReboot returns the protocol cursor to its power-on state and queues the
// banner again.
func (e *Emulator) SimulateReboot() {
	e.cursorMu.Lock()
	e.cursor = lineproto.Cursor{}
	e.cursorMu.Unlock()

	e.respond(Banner)
}

// ExpectedLine returns the next line number the emulator expects.
func (e *Emulator) ExpectedLine() int {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()

	return e.cursor.Expected()
}

// SetFilamentRunout sets the filament sensor state reported by M119.
func (e *Emulator) SetFilamentRunout(triggered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.filamentRunout = triggered
}

// Position returns the current position.
func (e *Emulator) Position() Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Position{X: e.x, Y: e.y, Z: e.z, E: e.extruders[e.active].ePos}
}

// ActiveExtruder returns the active extruder index.
func (e *Emulator) ActiveExtruder() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.active
}

// FanSpeed returns the last fan speed set by M106.
func (e *Emulator) FanSpeed() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.fanSpeed
}

// Extruders returns a snapshot of every extruder.
func (e *Emulator) Extruders() []ExtruderState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	states := make([]ExtruderState, len(e.extruders))
	for i, ex := range e.extruders {
		states[i] = ExtruderState{
			State:             ex.heater.Snapshot(),
			Index:             i,
			EPosition:         ex.ePos,
			LastEPosition:     ex.lastEPos,
			AbsoluteEPosition: ex.absoluteE,
		}
	}

	return states
}

// Bed returns the bed heater state. ok is false when the emulator has no heated bed.
func (e *Emulator) Bed() (state heater.State, ok bool) {
	if e.bed == nil {
		return heater.State{}, false
	}

	return e.bed.Snapshot(), true
}

func (e *Emulator) mirrorDTR() bool {
	if dtr := e.dtr.Load(); dtr != e.dsr.Load() {
		e.dsr.Store(dtr)
		e.dsrChangeCount.Add(1)
	}

	return true
}

// drainOnce processes one inbound line or waits for the next one.
// It returns false once shutdown is requested and the queue is empty.
func (e *Emulator) drainOnce() bool {
	if line, ok := e.inbound.Dequeue(); ok {
		if line != "" {
			e.process(line)
		}
		return true
	}

	if e.shuttingDown.Load() {
		return false
	}

	select {
	case <-e.inbound.Wait():
	case <-e.taskMgr.Context().Done():
	}

	return true
}

func (e *Emulator) onPipelineExit() {
	e.shuttingDown.Store(true)
	e.taskMgr.Stop()
	e.stopHeaters()

	e.opState.ToClosing()
	e.opState.ToClosed()

	e.logger.Debug("emulator closed", "linesReceived", e.metrics.LineRecvCount.Load())
	e.closeOnce.Do(func() { close(e.done) })
}

// process validates one raw line, runs its command and queues the response.
func (e *Emulator) process(raw string) {
	e.metrics.incLineRecvCount()
	e.emit(Event{Kind: ReceivedInstruction, Line: raw})

	line, _, _ := strings.Cut(raw, "\n")
	line = strings.TrimRight(line, "\r")

	res := e.parseLine(line)
	if res.Kind == lineproto.Resend {
		e.metrics.incResendCount()
		e.logger.Warn("line rejected", "line", line, "error", res.Err)
		e.respond(res.Response)

		return
	}

	e.respond(e.dispatch(res.Payload))
}

func (e *Emulator) parseLine(line string) lineproto.Result {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()

	if e.cfg.simulateLineErrors && lineproto.IsNumbered(line) && (e.cursor.Received()+1)%lineErrorPeriod == 0 {
		return e.cursor.ParseCorrupted(line)
	}

	return e.cursor.Parse(line)
}

func (e *Emulator) respond(resp string) {
	e.outbound.Enqueue(resp)
	e.metrics.incResponseCount()
}

func (e *Emulator) emit(evt Event) {
	e.handlerMu.RLock()
	handlers := util.CloneSlice(e.handlers, 0)
	e.handlerMu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			e.callHandler(h, evt)
		}
	}
}

func (e *Emulator) callHandler(h EventHandler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in event handler", "event", evt.Kind.String(), "panic", r)
		}
	}()

	h(evt)
}

// growExtruders makes sure an extruder exists at index. Callers must hold e.mu
// or be in construction.
func (e *Emulator) growExtruders(index int) error {
	if index >= e.cfg.maxExtruders {
		return fmt.Errorf("%w: extruder index %d exceeds limit %d", ErrBadArgument, index, e.cfg.maxExtruders)
	}

	for i := len(e.extruders); i <= index; i++ {
		h, err := heater.New(fmt.Sprintf("Hotend%d", i+1), DefaultExtruderTemp, e.cfg.heaterOpts...)
		if err != nil {
			return fmt.Errorf("emulator: create extruder %d: %w", i, err)
		}
		if e.shuttingDown.Load() {
			h.Stop()
		}
		e.extruders = append(e.extruders, &extruder{heater: h})
	}

	return nil
}

func (e *Emulator) stopHeaters() {
	e.mu.RLock()
	extruders := util.CloneSlice(e.extruders, 0)
	e.mu.RUnlock()

	for _, ex := range extruders {
		ex.heater.Stop()
	}
	if e.bed != nil {
		e.bed.Stop()
	}
}
