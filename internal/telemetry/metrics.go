package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "records_ingested_total",
			Help:      "Total log records accepted into the aggregator, partitioned by source.",
		},
		[]string{"source"},
	)

	recordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "records_dropped_total",
			Help:      "Total log records rejected by validation or channel pressure.",
		},
	)

	anomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "anomalies_total",
			Help:      "Total metric anomalies detected, partitioned by metric name.",
		},
		[]string{"metric"},
	)

	alertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "alerts_sent_total",
			Help:      "Total alerts delivered, partitioned by severity.",
		},
		[]string{"severity"},
	)

	alertsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftwatch",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert candidates suppressed, partitioned by reason.",
		},
		[]string{"reason"},
	)

	detectionCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftwatch",
			Name:      "detection_cycle_seconds",
			Help:      "Detection cycle latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
)

// Register attaches driftwatch collectors to the supplied Prometheus
// registerer. Re-registration is tolerated.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		recordsIngested,
		recordsDropped,
		anomaliesDetected,
		alertsSent,
		alertsSuppressed,
		detectionCycleSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func RecordIngested(source string) {
	if source == "" {
		source = "unknown"
	}
	recordsIngested.WithLabelValues(source).Inc()
}

func RecordDropped() {
	recordsDropped.Inc()
}

func AnomalyDetected(metric string) {
	anomaliesDetected.WithLabelValues(metric).Inc()
}

func AlertSent(severity string) {
	alertsSent.WithLabelValues(severity).Inc()
}

func AlertSuppressed(reason string) {
	alertsSuppressed.WithLabelValues(reason).Inc()
}

func ObserveDetectionCycle(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	detectionCycleSeconds.Observe(duration.Seconds())
}
