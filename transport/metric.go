package transport

import "sync/atomic"

// Metrics contains atomic counters of a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ExchangeCount indicates the number of exchanges started.
	ExchangeCount atomic.Uint64
	// ExchangeErrCount indicates the number of exchanges that failed for any reason.
	ExchangeErrCount atomic.Uint64
	// TimeoutCount indicates the number of exchanges that got no response in time.
	TimeoutCount atomic.Uint64
	// InterruptCount indicates the number of exchanges cancelled by Interrupt or the context.
	InterruptCount atomic.Uint64
	// StaleCount indicates the number of discarded datagrams with a foreign sequence number.
	StaleCount atomic.Uint64

	// DatagramSendCount indicates the number of datagrams sent.
	DatagramSendCount atomic.Uint64
	// DatagramRecvCount indicates the number of datagrams received.
	DatagramRecvCount atomic.Uint64
	// BytesSent indicates the number of payload and header bytes sent.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of payload and header bytes received.
	BytesRecv atomic.Uint64

	// InflightCount indicates whether an exchange is waiting for its response.
	InflightCount atomic.Int64
}

func (m *Metrics) incExchangeCount() {
	m.ExchangeCount.Add(1)
	m.InflightCount.Add(1)
}

func (m *Metrics) doneExchange(err error) {
	m.InflightCount.Add(-1)
	if err != nil {
		m.ExchangeErrCount.Add(1)
	}
}

func (m *Metrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *Metrics) incInterruptCount() {
	m.InterruptCount.Add(1)
}

func (m *Metrics) incStaleCount() {
	m.StaleCount.Add(1)
}

func (m *Metrics) addSent(n int) {
	m.DatagramSendCount.Add(1)
	m.BytesSent.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) addRecv(n int) {
	m.DatagramRecvCount.Add(1)
	m.BytesRecv.Add(uint64(n)) //nolint:gosec
}
