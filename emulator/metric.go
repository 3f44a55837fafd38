package emulator

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Metrics contains atomic counters for an Emulator.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// LineRecvCount indicates the number of non-empty inbound lines processed.
	LineRecvCount atomic.Uint64
	// ResendCount indicates the number of lines rejected with a resend request.
	ResendCount atomic.Uint64
	// ResponseCount indicates the number of responses queued for the host.
	ResponseCount atomic.Uint64
	// HandlerErrCount indicates the number of commands whose handler failed.
	HandlerErrCount atomic.Uint64
	// UnknownCmdCount indicates the number of commands without a handler.
	UnknownCmdCount atomic.Uint64

	commands *xsync.MapOf[string, *atomic.Uint64]
}

func newMetrics() *Metrics {
	return &Metrics{commands: xsync.NewMapOf[string, *atomic.Uint64]()}
}

// CommandCount returns how many times the command key was dispatched to a handler.
func (m *Metrics) CommandCount(key string) uint64 {
	if c, ok := m.commands.Load(key); ok {
		return c.Load()
	}

	return 0
}

func (m *Metrics) incCommandCount(key string) {
	c, _ := m.commands.LoadOrCompute(key, func() *atomic.Uint64 { return &atomic.Uint64{} })
	c.Add(1)
}

func (m *Metrics) incLineRecvCount() {
	m.LineRecvCount.Add(1)
}

func (m *Metrics) incResendCount() {
	m.ResendCount.Add(1)
}

func (m *Metrics) incResponseCount() {
	m.ResponseCount.Add(1)
}

func (m *Metrics) incHandlerErrCount() {
	m.HandlerErrCount.Add(1)
}

func (m *Metrics) incUnknownCmdCount() {
	m.UnknownCmdCount.Add(1)
}
