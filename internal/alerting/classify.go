package alerting

import "driftwatch/internal/model"

// Spike thresholds for the severity backstop.
const (
	errorSpikeRate       = 0.05
	latencySpikeRatio    = 2.0
	criticalSignalCount  = 3
	warnSignalCount      = 2
)

// ClassifySeverity derives an alert severity from raw signals. It is the
// backstop for candidates submitted without a severity; pipeline candidates
// carry the correlator's decision and never reach it.
func ClassifySeverity(signals []model.Anomaly) model.AlertSeverity {
	if len(signals) == 0 {
		return model.SeverityInfo
	}

	var hasHighSignal, errorSpike, latencySpike bool
	for _, s := range signals {
		if s.Severity == model.AnomalyHigh {
			hasHighSignal = true
		}
		switch s.MetricName {
		case model.MetricErrorRate:
			if s.CurrentValue > errorSpikeRate {
				errorSpike = true
			}
		case model.MetricAvgLatency, model.MetricP50Latency, model.MetricP95Latency, model.MetricP99Latency:
			if s.DeviationRatio > latencySpikeRatio {
				latencySpike = true
			}
		}
	}

	switch {
	case hasHighSignal, len(signals) >= criticalSignalCount, errorSpike && latencySpike:
		return model.SeverityCritical
	case errorSpike, latencySpike, len(signals) >= warnSignalCount:
		return model.SeverityWarn
	default:
		return model.SeverityInfo
	}
}
