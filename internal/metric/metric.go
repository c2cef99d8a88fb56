package metric

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	syncNamespace = "go_db_sync"
	tableLabel    = "table"
)

type Metric interface {
	RowsSyncedIncrement(table string, count int64)
	BatchIncrement(table string)
	RetryIncrement(table, op string)
	FailureIncrement(table, kind string)
	SetWatermark(table string, value float64)
	SetBatchLatency(table string, latency time.Duration)
	SetRunDuration(d time.Duration)
	SetTables(succeeded, failed int)

	PrometheusCollectors() []prometheus.Collector
}

type metric struct {
	rowsSynced *prometheus.CounterVec
	batches    *prometheus.CounterVec
	retries    *prometheus.CounterVec
	failures   *prometheus.CounterVec

	watermark    *prometheus.GaugeVec
	batchLatency *prometheus.GaugeVec
	runDuration  prometheus.Gauge
	tables       *prometheus.GaugeVec
}

//nolint:funlen
func NewMetric(source, target string) Metric {
	hostname, _ := os.Hostname()
	labels := prometheus.Labels{
		"source": source,
		"target": target,
		"host":   hostname,
	}

	return &metric{
		rowsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   syncNamespace,
			Subsystem:   "rows_synced",
			Name:        "total",
			Help:        "total number of rows written to the target",
			ConstLabels: labels,
		}, []string{tableLabel}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   syncNamespace,
			Subsystem:   "batches",
			Name:        "total",
			Help:        "total number of committed batches",
			ConstLabels: labels,
		}, []string{tableLabel}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   syncNamespace,
			Subsystem:   "retries",
			Name:        "total",
			Help:        "total number of retried operations",
			ConstLabels: labels,
		}, []string{tableLabel, "op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   syncNamespace,
			Subsystem:   "failures",
			Name:        "total",
			Help:        "total number of failed table pipelines",
			ConstLabels: labels,
		}, []string{tableLabel, "kind"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   syncNamespace,
			Subsystem:   "offset",
			Name:        "watermark",
			Help:        "last committed watermark, timestamps in unix seconds",
			ConstLabels: labels,
		}, []string{tableLabel}),
		batchLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   syncNamespace,
			Subsystem:   "batch_latency",
			Name:        "current",
			Help:        "latest read to commit latency of a batch in ms",
			ConstLabels: labels,
		}, []string{tableLabel}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   syncNamespace,
			Subsystem:   "run",
			Name:        "duration_seconds",
			Help:        "duration of the last run",
			ConstLabels: labels,
		}),
		tables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   syncNamespace,
			Subsystem:   "run",
			Name:        "tables",
			Help:        "number of tables by status in the last run",
			ConstLabels: labels,
		}, []string{"status"}),
	}
}

func (m *metric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rowsSynced,
		m.batches,
		m.retries,
		m.failures,
		m.watermark,
		m.batchLatency,
		m.runDuration,
		m.tables,
	}
}

func (m *metric) RowsSyncedIncrement(table string, count int64) {
	m.rowsSynced.WithLabelValues(table).Add(float64(count))
}

func (m *metric) BatchIncrement(table string) {
	m.batches.WithLabelValues(table).Inc()
}

func (m *metric) RetryIncrement(table, op string) {
	m.retries.WithLabelValues(table, op).Inc()
}

func (m *metric) FailureIncrement(table, kind string) {
	m.failures.WithLabelValues(table, kind).Inc()
}

func (m *metric) SetWatermark(table string, value float64) {
	m.watermark.WithLabelValues(table).Set(value)
}

func (m *metric) SetBatchLatency(table string, latency time.Duration) {
	m.batchLatency.WithLabelValues(table).Set(float64(latency.Milliseconds()))
}

func (m *metric) SetRunDuration(d time.Duration) {
	m.runDuration.Set(d.Seconds())
}

func (m *metric) SetTables(succeeded, failed int) {
	m.tables.WithLabelValues("idle").Set(float64(succeeded))
	m.tables.WithLabelValues("failed").Set(float64(failed))
}
