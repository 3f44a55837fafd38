package printer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-gcodelink/logger"
)

// CommState represents the communication state of a printer connection.
type CommState uint32

// Communication states of a printer connection.
const (
	// Disconnected indicates the port is not open or has been lost.
	Disconnected CommState = iota
	// Connected indicates the port is open and no job is running.
	Connected
	// Printing indicates a job is streaming.
	Printing
	// Paused indicates a job is parked by the pause stage.
	Paused
	// FinishedPrint indicates the last job ran to its end.
	FinishedPrint
)

// String returns string representation of the state.
func (s CommState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Printing:
		return "printing"
	case Paused:
		return "paused"
	case FinishedPrint:
		return "finished-print"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CommState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsPrinting returns if the state is Printing.
func (s CommState) IsPrinting() bool { return s == Printing }

// IsConnected returns true for every state except Disconnected.
func (s CommState) IsConnected() bool { return s != Disconnected }

// allowedFrom lists the states each target state may be entered from.
var allowedFrom = map[CommState][]CommState{
	Connected:     {Disconnected, Printing, Paused, FinishedPrint},
	Printing:      {Connected, Paused, FinishedPrint},
	Paused:        {Printing},
	FinishedPrint: {Printing},
}

// CommStateChangeHandler is invoked when the state changes.
//
// Note: the handler is invoked in blocking mode with the state lock held. It must not
// call WaitState or request another transition synchronously.
type CommStateChangeHandler func(prevState CommState, newState CommState)

// CommStateMgr manages the communication state of a printer connection.
//
// State transitions are safe for concurrent use.
type CommStateMgr struct {
	mu               sync.Mutex
	ctx              context.Context
	cond             *sync.Cond
	state            atomic.Uint32
	logger           logger.Logger
	asyncStateChange chan CommState
	handlers         []CommStateChangeHandler
}

// NewCommStateMgr creates a CommStateMgr in the Disconnected state.
//
// The async transition goroutine stops when ctx is done.
func NewCommStateMgr(ctx context.Context, l logger.Logger, handlers ...CommStateChangeHandler) *CommStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	cs := &CommStateMgr{
		ctx:              ctx,
		logger:           l,
		asyncStateChange: make(chan CommState, 10),
		handlers:         make([]CommStateChangeHandler, 0, len(handlers)),
	}
	cs.AddHandler(handlers...)
	cs.state.Store(uint32(Disconnected))
	cs.cond = sync.NewCond(&cs.mu)

	go cs.asyncStateChangeTask()

	return cs
}

// State returns the current state.
func (cs *CommStateMgr) State() CommState {
	return CommState(cs.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (cs *CommStateMgr) AddHandler(handlers ...CommStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits until the state equals state or ctx is done.
func (cs *CommStateMgr) WaitState(ctx context.Context, state CommState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			cs.logger.Debug("wait comm state receive ctx done", "cur_state", cs.State(), "desired_state", state)
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// ToDisconnected moves to Disconnected. It is allowed from any state.
func (cs *CommStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == Disconnected {
		return
	}

	cs.setState(Disconnected)
	cs.invokeHandlers(curState, Disconnected)
}

// ToConnected moves to Connected.
func (cs *CommStateMgr) ToConnected() error { return cs.transition(Connected) }

// ToPrinting moves to Printing.
func (cs *CommStateMgr) ToPrinting() error { return cs.transition(Printing) }

// ToPaused moves to Paused.
func (cs *CommStateMgr) ToPaused() error { return cs.transition(Paused) }

// ToFinishedPrint moves to FinishedPrint.
func (cs *CommStateMgr) ToFinishedPrint() error { return cs.transition(FinishedPrint) }

// ToDisconnectedAsync moves to Disconnected from a background goroutine.
//
// It is used by tasks that must not block on state handlers.
func (cs *CommStateMgr) ToDisconnectedAsync() {
	cs.changeStateAsync(Disconnected)
}

// transition moves to newState if the current state permits it. Staying in the same
// state is a no-op.
func (cs *CommStateMgr) transition(newState CommState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState == newState {
		return nil
	}

	allowed := false
	for _, from := range allowedFrom[newState] {
		if from == curState {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, curState, newState)
	}

	cs.setState(newState)
	cs.invokeHandlers(curState, newState)

	return nil
}

// setState stores newState and wakes waiters. The caller holds cs.mu.
func (cs *CommStateMgr) setState(newState CommState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

func (cs *CommStateMgr) invokeHandlers(prevState CommState, newState CommState) {
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}

func (cs *CommStateMgr) changeStateAsync(state CommState) {
	if cs.State() == state {
		return
	}

	select {
	case cs.asyncStateChange <- state:
	case <-cs.ctx.Done():
	}
}

// asyncStateChangeTask applies queued transitions in the background.
func (cs *CommStateMgr) asyncStateChangeTask() {
	defer cs.logger.Debug("comm state async task terminated")

	for {
		select {
		case <-cs.ctx.Done():
			return

		case desiredState := <-cs.asyncStateChange:
			prevState := cs.State()
			if desiredState == prevState {
				break
			}

			var err error
			switch desiredState {
			case Disconnected:
				cs.ToDisconnected()
			default:
				err = cs.transition(desiredState)
			}

			if err != nil {
				cs.logger.Warn("async comm state change failed",
					"prevState", prevState, "curState", cs.State(), "desiredState", desiredState, "error", err)
			}
		}
	}
}
