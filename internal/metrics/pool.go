package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bookoftales/tales/internal/pool"
)

// StatsSource is satisfied by *pool.Pool.
type StatsSource interface {
	Stats() pool.Stats
}

// PoolCollector reads pool counters at scrape time.
type PoolCollector struct {
	src StatsSource

	maxConns *prometheus.Desc
	conns    *prometheus.Desc
	pending  *prometheus.Desc
	waits    *prometheus.Desc
	timeouts *prometheus.Desc
	created  *prometheus.Desc
	closed   *prometheus.Desc
	broken   *prometheus.Desc
}

func NewPoolCollector(src StatsSource) *PoolCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, labels, nil)
	}
	return &PoolCollector{
		src:      src,
		maxConns: desc("max_connections", "Upper bound on open connections."),
		conns:    desc("connections", "Open connections by state.", "state"),
		pending:  desc("pending_acquires", "Acquires waiting for a connection."),
		waits:    desc("waits_total", "Acquires that had to wait."),
		timeouts: desc("acquire_timeouts_total", "Acquires that timed out."),
		created:  desc("connections_created_total", "Physical connections opened."),
		closed:   desc("connections_closed_total", "Physical connections closed."),
		broken:   desc("connections_broken_total", "Connections discarded as broken on release."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.maxConns, c.conns, c.pending, c.waits, c.timeouts, c.created, c.closed, c.broken} {
		ch <- d
	}
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(st.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Active), "active")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(st.Open-st.Idle-st.Active), "reserved")
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(st.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(st.TimeoutCount))
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(st.CreatedCount))
	ch <- prometheus.MustNewConstMetric(c.closed, prometheus.CounterValue, float64(st.ClosedCount))
	ch <- prometheus.MustNewConstMetric(c.broken, prometheus.CounterValue, float64(st.BrokenCount))
}
