package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fulfillment_health"

// Collector is a prometheus.Collector for probe outcomes. A nil Collector
// records nothing.
type Collector struct {
	probes  *prometheus.CounterVec
	skips   *prometheus.CounterVec
	backoff *prometheus.GaugeVec
	latency *prometheus.GaugeVec
	up      *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "probes_total",
				Help:      "The number of health probes issued, by result status.",
			}, []string{"service", "status"},
		),
		skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "skipped_total",
				Help:      "The number of checks answered from the last record inside the backoff window.",
			}, []string{"service"},
		),
		backoff: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "backoff_seconds",
				Help:      "The current backoff interval.",
			}, []string{"service"},
		),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "latency_seconds",
				Help:      "The latency of the last answered probe.",
			}, []string{"service"},
		),
		up: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "up",
				Help:      "1 if the last probe was healthy.",
			}, []string{"service"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.probes.Describe(ch)
	c.skips.Describe(ch)
	c.backoff.Describe(ch)
	c.latency.Describe(ch)
	c.up.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.probes.Collect(ch)
	c.skips.Collect(ch)
	c.backoff.Collect(ch)
	c.latency.Collect(ch)
	c.up.Collect(ch)
}

func (c *Collector) observe(r Record) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(r.Service, string(r.Status)).Inc()
	c.backoff.WithLabelValues(r.Service).Set(r.Backoff.Seconds())
	c.latency.WithLabelValues(r.Service).Set(r.Latency.Seconds())
	up := 0.0
	if r.Status == StatusHealthy {
		up = 1
	}
	c.up.WithLabelValues(r.Service).Set(up)
}

func (c *Collector) skipped(service string) {
	if c == nil {
		return
	}
	c.skips.WithLabelValues(service).Inc()
}
