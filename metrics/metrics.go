// Package metrics exposes the kiosk session metrics to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/arloliu/go-kiosk/kiosk"
	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kiosk"

type counterDef struct {
	name string
	help string
	get  func(m *kiosk.ConnectionMetrics) uint64
}

var counterDefs = []counterDef{
	{"connect_attempts_total", "Number of dial attempts to the device.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.ConnectAttemptCount.Load() }},
	{"connects_total", "Number of established device connections.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.ConnectCount.Load() }},
	{"commands_sent_total", "Number of commands written to the device.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.CommandSendCount.Load() }},
	{"commands_dropped_total", "Number of commands dropped while disconnected.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.CommandDropCount.Load() }},
	{"command_errors_total", "Number of failed command writes.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.CommandErrCount.Load() }},
	{"status_received_total", "Number of decoded status events.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.StatusRecvCount.Load() }},
	{"decode_errors_total", "Number of inbound lines that failed to decode.",
		func(m *kiosk.ConnectionMetrics) uint64 { return m.DecodeErrCount.Load() }},
}

// Collector is a set of scrape-time collectors over kiosk.ConnectionMetrics.
//
// The session is recreated on configuration reload. Attach switches the collector
// to the metrics of the new session and carries the counter values of the previous
// one over, so the exported counters never decrease.
type Collector struct {
	mu      sync.Mutex // protects current and retired
	current *kiosk.ConnectionMetrics
	retired []uint64

	collectors []prom.Collector
}

// NewCollector creates the collectors. constLabels are attached to every series.
func NewCollector(constLabels prom.Labels) *Collector {
	c := &Collector{retired: make([]uint64, len(counterDefs))}

	for i, def := range counterDefs {
		c.collectors = append(c.collectors, prom.NewCounterFunc(prom.CounterOpts{
			Namespace:   namespace,
			Name:        def.name,
			Help:        def.help,
			ConstLabels: constLabels,
		}, func() float64 { return float64(c.total(i)) }))
	}

	c.collectors = append(c.collectors, prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "connect_retries",
		Help:        "Number of consecutive failed dial attempts.",
		ConstLabels: constLabels,
	}, func() float64 {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.current != nil {
			return float64(c.current.ConnRetryGauge.Load())
		}
		return 0
	}))

	return c
}

// Attach makes m the metrics source of the collector. m may be nil when no session
// is active.
func (c *Collector) Attach(m *kiosk.ConnectionMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == m {
		return
	}
	if c.current != nil {
		for i, def := range counterDefs {
			c.retired[i] += def.get(c.current)
		}
	}
	c.current = m
}

func (c *Collector) total(i int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.retired[i]
	if c.current != nil {
		total += counterDefs[i].get(c.current)
	}

	return total
}

// Register registers all collectors with reg.
func (c *Collector) Register(reg prom.Registerer) error {
	for _, col := range c.collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	return nil
}

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
