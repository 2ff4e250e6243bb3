package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultPoolLabel = "default"

// poolCollector reports pgxpool statistics on every scrape.
type poolCollector struct {
	stat func() *pgxpool.Stat

	open         *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	maxConns     *prometheus.Desc
	emptyAcquire *prometheus.Desc
	waitSeconds  *prometheus.Desc
}

func newPoolCollector(cfg *Config, stat func() *pgxpool.Stat) *poolCollector {
	labels := prometheus.Labels{"pool": computePoolLabel(cfg)}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("idc_postgres_"+name, help, nil, labels)
	}
	return &poolCollector{
		stat:         stat,
		open:         desc("connections_open", "Total connections held by the pool"),
		inUse:        desc("connections_in_use", "Connections currently acquired"),
		idle:         desc("connections_idle", "Idle connections"),
		maxConns:     desc("connections_max", "Configured maximum pool size"),
		emptyAcquire: desc("empty_acquire_total", "Acquires that had to wait for a connection"),
		waitSeconds:  desc("acquire_wait_seconds_total", "Cumulative time spent waiting for a connection"),
	}
}

func computePoolLabel(cfg *Config) string {
	if cfg == nil || cfg.DBName == "" {
		return defaultPoolLabel
	}
	return cfg.DBName
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.maxConns
	ch <- c.emptyAcquire
	ch <- c.waitSeconds
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	if s == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(
		c.waitSeconds,
		prometheus.CounterValue,
		s.EmptyAcquireWaitTime().Seconds(),
	)
}
