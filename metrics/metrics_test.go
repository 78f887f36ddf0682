package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/arloliu/go-kiosk/kiosk"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prom.Registry) map[string]float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			values[mf.GetName()] = c.GetValue()
		} else if g := m.GetGauge(); g != nil {
			values[mf.GetName()] = g.GetValue()
		}
	}

	return values
}

func TestCollector(t *testing.T) {
	require := require.New(t)

	reg := prom.NewRegistry()
	c := NewCollector(prom.Labels{"device": "test"})
	require.NoError(c.Register(reg))

	// no session yet
	values := gather(t, reg)
	require.Len(values, 8)
	require.Zero(values["kiosk_connect_attempts_total"])

	current := &kiosk.ConnectionMetrics{}
	current.ConnectAttemptCount.Store(3)
	current.ConnectCount.Store(1)
	current.ConnRetryGauge.Store(2)
	current.CommandSendCount.Store(10)
	current.CommandDropCount.Store(4)
	current.DecodeErrCount.Store(1)
	c.Attach(current)

	values = gather(t, reg)
	require.Equal(3.0, values["kiosk_connect_attempts_total"])
	require.Equal(1.0, values["kiosk_connects_total"])
	require.Equal(2.0, values["kiosk_connect_retries"])
	require.Equal(10.0, values["kiosk_commands_sent_total"])
	require.Equal(4.0, values["kiosk_commands_dropped_total"])
	require.Equal(1.0, values["kiosk_decode_errors_total"])
	require.Zero(values["kiosk_status_received_total"])

	// registering twice fails
	require.Error(c.Register(reg))
}

func TestCollector_AttachKeepsTotals(t *testing.T) {
	require := require.New(t)

	reg := prom.NewRegistry()
	c := NewCollector(nil)
	require.NoError(c.Register(reg))

	first := &kiosk.ConnectionMetrics{}
	first.CommandSendCount.Store(5)
	first.ConnRetryGauge.Store(3)
	c.Attach(first)
	c.Attach(first)
	require.Equal(5.0, gather(t, reg)["kiosk_commands_sent_total"])

	// session stopped
	c.Attach(nil)
	values := gather(t, reg)
	require.Equal(5.0, values["kiosk_commands_sent_total"])
	require.Zero(values["kiosk_connect_retries"])

	// a new session starts counting from zero
	second := &kiosk.ConnectionMetrics{}
	c.Attach(second)
	require.Equal(5.0, gather(t, reg)["kiosk_commands_sent_total"])

	second.CommandSendCount.Store(2)
	second.ConnRetryGauge.Store(1)
	values = gather(t, reg)
	require.Equal(7.0, values["kiosk_commands_sent_total"])
	require.Equal(1.0, values["kiosk_connect_retries"])
}

func TestHTTPHandler(t *testing.T) {
	require := require.New(t)

	current := &kiosk.ConnectionMetrics{}
	current.StatusRecvCount.Store(7)

	reg := prom.NewRegistry()
	c := NewCollector(nil)
	c.Attach(current)
	require.NoError(c.Register(reg))

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Contains(string(body), "kiosk_status_received_total 7")
}
