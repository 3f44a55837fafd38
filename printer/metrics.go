package printer

import "sync/atomic"

// ConnectionMetrics contains atomic counters for a Connection.
// ConnectionMetrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// LinesSent indicates the number of lines written to the port, resends included.
	LinesSent atomic.Uint64
	// OKCount indicates the number of ok acknowledgments received.
	OKCount atomic.Uint64
	// ResendCount indicates the number of resend requests received.
	ResendCount atomic.Uint64
	// LinesReceived indicates the number of response lines read from the port.
	LinesReceived atomic.Uint64
	// AckTimeoutCount indicates how often the sender gave up waiting for ok.
	AckTimeoutCount atomic.Uint64
}

func (m *ConnectionMetrics) incLinesSent() {
	m.LinesSent.Add(1)
}

func (m *ConnectionMetrics) incOKCount() {
	m.OKCount.Add(1)
}

func (m *ConnectionMetrics) incResendCount() {
	m.ResendCount.Add(1)
}

func (m *ConnectionMetrics) incLinesReceived() {
	m.LinesReceived.Add(1)
}

func (m *ConnectionMetrics) incAckTimeoutCount() {
	m.AckTimeoutCount.Add(1)
}
