package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Metrics holds the per-run counters. A batch job has no scrape
// endpoint, so the registry is pushed to a Pushgateway at the end of
// the run when one is configured.
type Metrics struct {
	registry *prometheus.Registry

	conversionsSent   *prometheus.CounterVec
	conversionsFailed *prometheus.CounterVec
	retractionsSent   *prometheus.CounterVec
	runDuration       prometheus.Gauge
	lastRunTS         prometheus.Gauge
}

// New creates a run-scoped metrics registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.conversionsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conversion_uploader",
		Name:      "conversions_sent_total",
		Help:      "Conversions accepted by the platform",
	}, []string{"platform", "event_type"})
	m.conversionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conversion_uploader",
		Name:      "conversions_failed_total",
		Help:      "Conversion submissions rejected or errored",
	}, []string{"platform", "event_type", "reason"})
	m.retractionsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conversion_uploader",
		Name:      "retractions_sent_total",
		Help:      "Refund retractions accepted by the platform",
	}, []string{"platform"})
	m.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conversion_uploader",
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of the sync run",
	})
	m.lastRunTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "conversion_uploader",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed run",
	})

	m.registry.MustRegister(
		m.conversionsSent, m.conversionsFailed, m.retractionsSent,
		m.runDuration, m.lastRunTS,
	)
	return m
}

// ObserveSent records an accepted conversion.
func (m *Metrics) ObserveSent(platform, eventType string) {
	m.conversionsSent.WithLabelValues(platform, eventType).Inc()
}

// ObserveFailed records a rejected or errored conversion submission.
func (m *Metrics) ObserveFailed(platform, eventType, reason string) {
	m.conversionsFailed.WithLabelValues(platform, eventType, reason).Inc()
}

// ObserveRetracted records an accepted retraction.
func (m *Metrics) ObserveRetracted(platform string) {
	m.retractionsSent.WithLabelValues(platform).Inc()
}

// ObserveRun records run duration and completion time.
func (m *Metrics) ObserveRun(duration time.Duration) {
	m.runDuration.Set(duration.Seconds())
	m.lastRunTS.Set(float64(time.Now().Unix()))
}

// Push sends the registry to the Pushgateway. A push failure is logged
// and swallowed; metrics delivery never fails a run.
func (m *Metrics) Push(gatewayURL, job string, log *zap.Logger) {
	if gatewayURL == "" {
		return
	}

	if err := push.New(gatewayURL, job).Gatherer(m.registry).Push(); err != nil {
		log.Warn("Failed to push metrics",
			zap.String("gateway", gatewayURL),
			zap.Error(err))
		return
	}
	log.Info("Metrics pushed", zap.String("gateway", gatewayURL))
}
