package metric

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Trendyol/go-db-sync/logger"
)

var runtimeMetrics = regexp.MustCompile("^/(gc|memory|sched)/.*")

type Registry interface {
	// AddMetricCollectors registers user collectors next to the sync metrics.
	// A collector that collides with an existing one is skipped and logged.
	AddMetricCollectors(metricCollectors ...prometheus.Collector)
	Prometheus() *prometheus.Registry
}

type prometheusRegistry struct {
	registry *prometheus.Registry
}

func NewRegistry(m Metric) Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: syncNamespace}),
		collectors.NewGoCollector(
			collectors.WithGoCollectorRuntimeMetrics(collectors.GoRuntimeMetricsRule{Matcher: runtimeMetrics}),
		),
	)
	r.MustRegister(m.PrometheusCollectors()...)

	return &prometheusRegistry{registry: r}
}

func (r *prometheusRegistry) AddMetricCollectors(metricCollectors ...prometheus.Collector) {
	for _, c := range metricCollectors {
		if err := r.registry.Register(c); err != nil {
			logger.Warn("[metric] collector not registered", "error", err)
		}
	}
}

func (r *prometheusRegistry) Prometheus() *prometheus.Registry {
	return r.registry
}
