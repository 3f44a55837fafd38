package printer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-gcodelink/internal/pool"
	"github.com/arloliu/go-gcodelink/internal/task"
	"github.com/arloliu/go-gcodelink/internal/util"
	"github.com/arloliu/go-gcodelink/lineproto"
	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/stream"
)

// LineHandler receives every line read from the port, without its line terminator.
//
// Handlers run on the reader task in registration order and must not block.
type LineHandler func(line string)

type dtrSetter interface {
	SetDTR(dtr bool) error
}

// Connection drives a printer over a byte port.
//
// Lines are pulled from the pipeline QueuedCommands -> PauseHandler -> Switcher -> job
// by a single sender task. Only one line is in flight: the next line is written after
// the device acknowledges the previous one with ok. A reader task splits the port
// output into lines, dispatches them to the registered LineHandlers and routes ok and
// resend requests back to the sender.
type Connection struct {
	cfg     *config
	logger  logger.Logger
	port    io.ReadWriteCloser
	reader  *bufio.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	taskMgr *task.Manager
	state   *CommStateMgr
	metrics ConnectionMetrics

	queued   *stream.QueuedCommands
	pause    *stream.PauseHandler
	switcher *stream.Switcher

	jobMu  sync.Mutex
	jobGen atomic.Uint64

	wake     chan struct{}
	okCh     chan struct{}
	resendCh chan int

	// nextIndex is owned by the sender task.
	nextIndex int
	history   *xsync.MapOf[int, string]

	handlerMu    sync.RWMutex
	lineHandlers []LineHandler

	posMu       sync.RWMutex
	reported    stream.PrinterMove
	hasReported bool

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ stream.Controller = (*Connection)(nil)

// New creates a connection over port. The port is not touched until Connect.
func New(port io.ReadWriteCloser, opts ...Option) (*Connection, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil port", ErrNotConnected)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(cfg.ctx)
	c := &Connection{
		cfg:      cfg,
		logger:   cfg.logger,
		port:     port,
		reader:   bufio.NewReader(port),
		ctx:      ctx,
		cancel:   cancel,
		taskMgr:  task.NewManager(ctx, cfg.logger),
		state:    NewCommStateMgr(ctx, cfg.logger, cfg.stateHandlers...),
		switcher: stream.NewSwitcher(nil),
		wake:     make(chan struct{}, 1),
		okCh:     make(chan struct{}, 1),
		resendCh: make(chan int, 4),
		history:  xsync.NewMapOf[int, string](),
	}

	pauseOpts := append([]stream.PauseOption{
		stream.WithLogger(cfg.logger),
		stream.WithMacros(cfg.macros),
	}, cfg.pauseOpts...)

	ph, err := stream.NewPauseHandler(c.switcher, c, cfg.settings, pauseOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	c.pause = ph
	c.queued = stream.NewQueuedCommands(ph, cfg.macros)
	c.AddLineHandler(ph.HandleLineReceived)

	return c, nil
}

// Connect raises DTR, starts the reader and sender tasks and enters Connected.
//
// With line numbers enabled the device line counter is reset first.
func (c *Connection) Connect() error {
	if c.closed.Load() {
		return fmt.Errorf("%w: connection closed", ErrNotConnected)
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	if d, ok := c.port.(dtrSetter); ok {
		if err := d.SetDTR(true); err != nil {
			c.logger.Warn("failed to raise DTR", "error", err)
		}
	}

	if c.cfg.lineNumbers {
		c.queued.Add(lineproto.ResetCommand+" N0", true)
	}

	if err := c.taskMgr.StartWithExit("printer-reader", c.readOnce, c.onLinkLost); err != nil {
		return err
	}
	if err := c.taskMgr.StartWithExit("printer-sender", c.sendOnce, c.onLinkLost); err != nil {
		c.taskMgr.Stop()
		return err
	}

	c.logger.Info("printer connected", "line_numbers", c.cfg.lineNumbers)

	return c.state.ToConnected()
}

// Close stops both tasks, lowers DTR and closes the port. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.state.ToDisconnected()
		c.taskMgr.Stop()

		if d, ok := c.port.(dtrSetter); ok {
			_ = d.SetDTR(false)
		}
		err = c.port.Close()

		c.taskMgr.Wait()
		c.cancel()
		c.logger.Info("printer connection closed")
	})

	return err
}

// State returns the communication state.
func (c *Connection) State() CommState {
	return c.state.State()
}

// WaitState blocks until the communication state equals state or ctx is done.
func (c *Connection) WaitState(ctx context.Context, state CommState) error {
	return c.state.WaitState(ctx, state)
}

// AddStateHandler registers communication state handlers.
func (c *Connection) AddStateHandler(handlers ...CommStateChangeHandler) {
	c.state.AddHandler(handlers...)
}

// AddLineHandler registers handlers for lines read from the port.
func (c *Connection) AddLineHandler(handlers ...LineHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.lineHandlers = append(c.lineHandlers, handlers...)
}

// AddPauseHandler registers pause transition listeners.
func (c *Connection) AddPauseHandler(handlers ...stream.PauseEventHandler) {
	c.pause.AddPauseHandler(handlers...)
}

// Metrics returns the connection counters.
func (c *Connection) Metrics() *ConnectionMetrics {
	return &c.metrics
}

// PauseState returns the state of the pause stage.
func (c *Connection) PauseState() stream.PauseState {
	return c.pause.State()
}

// PausePosition returns the position captured when the last pause completed.
func (c *Connection) PausePosition() stream.PrinterMove {
	return c.pause.PausePosition()
}

// Position returns the last commanded position seen by the pause stage.
func (c *Connection) Position() stream.PrinterMove {
	return c.pause.LastDestination()
}

// ReportedPosition returns the position from the latest M114 report.
// ok is false until the device has reported one.
func (c *Connection) ReportedPosition() (stream.PrinterMove, bool) {
	c.posMu.RLock()
	defer c.posMu.RUnlock()

	return c.reported, c.hasReported
}

// StartPrint streams src as the current job.
func (c *Connection) StartPrint(src stream.LineSource) error {
	if src == nil {
		return errors.New("printer: nil job source")
	}

	c.jobMu.Lock()
	defer c.jobMu.Unlock()

	switch c.state.State() {
	case Disconnected:
		return ErrNotConnected
	case Printing, Paused:
		return ErrBusy
	}

	c.pause.Reset()
	c.switcher.Switch(src)
	c.jobGen.Add(1)

	if err := c.state.ToPrinting(); err != nil {
		c.switcher.Switch(nil)
		return err
	}

	c.logger.Info("print started")
	c.signalWake()

	return nil
}

// Pause requests a user pause. The state becomes Paused once the pause code has been sent.
func (c *Connection) Pause() error {
	if c.state.State() != Printing {
		return ErrNotPrinting
	}

	if err := c.pause.DoPause(stream.UserRequested, ""); err != nil {
		return err
	}
	c.signalWake()

	return nil
}

// Resume restores the captured position and continues the job.
func (c *Connection) Resume() error {
	if err := c.pause.Resume(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPaused, err)
	}

	if c.state.State() == Paused {
		if err := c.state.ToPrinting(); err != nil {
			return err
		}
	}

	c.logger.Info("print resumed")
	c.signalWake()

	return nil
}

// CancelPrint drops the job and every queued line and returns to Connected.
func (c *Connection) CancelPrint() error {
	c.jobMu.Lock()
	defer c.jobMu.Unlock()

	st := c.state.State()
	if st != Printing && st != Paused {
		return ErrNotPrinting
	}

	c.switcher.Switch(nil)
	c.jobGen.Add(1)
	c.queued.Cancel()
	c.pause.Reset()

	c.logger.Info("print canceled")

	return c.state.ToConnected()
}

// HomeAxis queues G28 for the given axes, or for all axes when none are given.
func (c *Connection) HomeAxis(axes ...stream.Axis) error {
	if !c.state.State().IsConnected() {
		return ErrNotConnected
	}

	var sb strings.Builder
	sb.WriteString("G28")
	for _, axis := range axes {
		sb.WriteByte(' ')
		sb.WriteString(string(axis))
	}
	c.QueueLine(sb.String())

	return nil
}

// IsPrinting implements stream.Controller.
func (c *Connection) IsPrinting() bool {
	return c.state.State().IsPrinting()
}

// SetPaused implements stream.Controller.
func (c *Connection) SetPaused() {
	if err := c.state.ToPaused(); err != nil {
		c.logger.Warn("cannot enter paused state", "error", err)
	}
}

// QueueLine sends line ahead of the job. Multi-line strings are split.
func (c *Connection) QueueLine(line string) {
	c.queued.Add(line, false)
}

// MoveRelative queues a relative move of one axis and restores absolute mode.
func (c *Connection) MoveRelative(axis stream.Axis, amount float64, feedRate float64) {
	c.QueueLine(fmt.Sprintf("G91\nG1 %s%s F%s\nG90",
		axis, util.FormatNumber(amount, 3), util.FormatNumber(feedRate, 3)))
}

func (c *Connection) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// onLinkLost runs when either task exits. Outside Close it means the port failed.
func (c *Connection) onLinkLost() {
	if c.closed.Load() {
		return
	}

	c.logger.Warn("printer link lost")
	c.taskMgr.Stop()
	c.state.ToDisconnectedAsync()
}

// sendOnce pulls one line from the pipeline and sends it.
func (c *Connection) sendOnce() bool {
	gen := c.jobGen.Load()

	line, ok := c.queued.NextLine()
	if !ok {
		c.finishPrint(gen)
		return c.idle()
	}

	body := stripComment(line)
	if body == "" {
		if c.pause.State() == stream.Paused {
			return c.idle()
		}
		return true
	}

	return c.send(body)
}

func (c *Connection) finishPrint(gen uint64) {
	c.jobMu.Lock()
	defer c.jobMu.Unlock()

	if c.jobGen.Load() != gen || c.state.State() != Printing {
		return
	}

	job := c.switcher.Switch(nil)
	if r, ok := job.(interface{ Err() error }); ok && r.Err() != nil {
		c.logger.Error("job source failed", "error", r.Err())
	}

	if err := c.state.ToFinishedPrint(); err != nil {
		c.logger.Warn("cannot finish print", "error", err)
		return
	}
	c.logger.Info("print finished", "lines_sent", c.metrics.LinesSent.Load())
}

func (c *Connection) idle() bool {
	timer := pool.GetTimer(c.cfg.idleInterval)
	defer pool.PutTimer(timer)

	select {
	case <-c.taskMgr.Context().Done():
		return false
	case <-c.queued.Wait():
	case <-c.wake:
	case <-timer.C:
	}

	return true
}

// send writes body and waits for its acknowledgment.
func (c *Connection) send(body string) bool {
	wire := body
	if c.cfg.lineNumbers {
		idx := c.nextIndex
		wire = lineproto.Encode(idx, body)
		c.history.Store(idx, wire)
		c.history.Delete(idx - c.cfg.historySize)
		c.nextIndex = nextLineIndex(body, idx)
	}

	// a late ok belongs to an earlier line
	select {
	case <-c.okCh:
	default:
	}

	if err := c.writeLine(wire); err != nil {
		return false
	}

	return c.awaitAck(body)
}

func (c *Connection) writeLine(wire string) error {
	if _, err := io.WriteString(c.port, wire+"\n"); err != nil {
		c.logger.Error("failed to write line", "line", wire, "error", err)
		return err
	}
	c.metrics.incLinesSent()
	c.logger.Debug("sent", "line", wire)

	return nil
}

func (c *Connection) awaitAck(body string) bool {
	ctx := c.taskMgr.Context()
	timer := pool.GetTimer(c.cfg.ackTimeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case <-c.okCh:
			return true
		case n := <-c.resendCh:
			if !c.resendFrom(n) {
				return false
			}
		case <-timer.C:
			c.metrics.incAckTimeoutCount()
			c.logger.Warn("no ok received, continuing", "line", body, "timeout", c.cfg.ackTimeout)
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// resendFrom writes history lines n up to the newest sent line.
func (c *Connection) resendFrom(n int) bool {
	if !c.cfg.lineNumbers {
		c.logger.Warn("resend requested without line numbers", "line", n)
		return true
	}

	if n >= c.nextIndex {
		c.logger.Warn("resend of unsent line", "line", n, "next", c.nextIndex)
		return true
	}

	for i := n; i < c.nextIndex; i++ {
		wire, ok := c.history.Load(i)
		if !ok {
			c.logger.Error("resend line not in history", "line", i)
			continue
		}
		if err := c.writeLine(wire); err != nil {
			return false
		}
	}

	return true
}

// readOnce reads one line from the port.
func (c *Connection) readOnce() bool {
	raw, err := c.reader.ReadString('\n')
	if line := strings.TrimRight(raw, "\r\n"); line != "" {
		c.handleLine(line)
	}

	if err != nil {
		if !errors.Is(err, io.EOF) && !c.closed.Load() {
			c.logger.Error("failed to read from port", "error", err)
		}
		return false
	}

	return true
}

func (c *Connection) handleLine(line string) {
	c.metrics.incLinesReceived()
	c.logger.Debug("recv", "line", line)

	c.handlerMu.RLock()
	handlers := c.lineHandlers
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(line)
	}

	if n, ok := lineproto.ParseResend(line); ok {
		c.metrics.incResendCount()
		select {
		case c.resendCh <- n:
		default:
			c.logger.Warn("resend request dropped", "line", n)
		}
		return
	}

	if strings.HasPrefix(line, "ok") {
		c.metrics.incOKCount()
		select {
		case c.okCh <- struct{}{}:
		default:
		}
		return
	}

	if strings.HasPrefix(line, "X:") && strings.Contains(line, "Count") {
		c.updateReported(line)
	}
}

// updateReported parses an M114 report such as "X:10.00 Y: 5.00 Z: 0.30 E: 1.00 Count ...".
func (c *Connection) updateReported(line string) {
	head, _, _ := strings.Cut(line, "Count")

	var pos stream.PrinterMove
	pos.Position.X, _ = util.FirstNumberAfter("X:", head)
	pos.Position.Y, _ = util.FirstNumberAfter("Y:", head)
	pos.Position.Z, _ = util.FirstNumberAfter("Z:", head)
	pos.Extrusion, _ = util.FirstNumberAfter("E:", head)

	c.posMu.Lock()
	c.reported = pos
	c.hasReported = true
	c.posMu.Unlock()
}

// nextLineIndex returns the line index that follows a sent line. M110 moves the
// counter to its N argument.
func nextLineIndex(body string, sent int) int {
	if idx := strings.Index(body, lineproto.ResetCommand); idx >= 0 {
		if n, ok := util.FirstNumberAfter("N", body[idx+len(lineproto.ResetCommand):]); ok {
			return int(n) + 1
		}
	}

	return sent + 1
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}

	return strings.TrimSpace(line)
}
