package kiosk

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// ConnectAttemptCount indicates the number of dial attempts.
	ConnectAttemptCount atomic.Uint64
	// ConnectCount indicates the number of established connections.
	ConnectCount atomic.Uint64
	// ConnRetryGauge indicates the number of consecutive failed dial attempts.
	ConnRetryGauge atomic.Uint32

	// CommandSendCount indicates the number of commands written to the device.
	CommandSendCount atomic.Uint64
	// CommandDropCount indicates the number of commands dropped while not connected.
	CommandDropCount atomic.Uint64
	// CommandErrCount indicates the number of failed command writes.
	CommandErrCount atomic.Uint64

	// StatusRecvCount indicates the number of decoded status events.
	StatusRecvCount atomic.Uint64
	// DecodeErrCount indicates the number of inbound lines that failed to decode.
	DecodeErrCount atomic.Uint64
}

func (m *ConnectionMetrics) incConnectAttemptCount() {
	m.ConnectAttemptCount.Add(1)
}

func (m *ConnectionMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}

func (m *ConnectionMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *ConnectionMetrics) incCommandDropCount() {
	m.CommandDropCount.Add(1)
}

func (m *ConnectionMetrics) incCommandErrCount() {
	m.CommandErrCount.Add(1)
}

func (m *ConnectionMetrics) incStatusRecvCount() {
	m.StatusRecvCount.Add(1)
}

func (m *ConnectionMetrics) incDecodeErrCount() {
	m.DecodeErrCount.Add(1)
}
