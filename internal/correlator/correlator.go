package correlator

import (
	"sort"
	"time"

	"driftwatch/internal/model"
)

// DefaultWindowSec sizes the candidate window when no signal carries one.
const DefaultWindowSec = 60

// Correlate reduces per-metric anomalies into endpoint-level alert
// candidates. Anomalies sharing (endpoint, window start) are grouped; a group
// is alert-worthy when it carries a latency or error signal:
//
//	latency AND error  -> HIGH
//	latency only       -> MEDIUM
//	error only         -> MEDIUM
//	traffic only       -> suppressed
//
// Traffic-volume anomalies corroborate but never alert on their own.
func Correlate(anomalies []model.Anomaly) []model.AlertCandidate {
	if len(anomalies) == 0 {
		return nil
	}

	type groupKey struct {
		endpoint    string
		windowStart int64
	}
	groups := make(map[groupKey][]model.Anomaly)
	order := make([]groupKey, 0)
	for _, a := range anomalies {
		k := groupKey{endpoint: a.Endpoint, windowStart: a.WindowStart.UnixNano()}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].endpoint != order[j].endpoint {
			return order[i].endpoint < order[j].endpoint
		}
		return order[i].windowStart < order[j].windowStart
	})

	candidates := make([]model.AlertCandidate, 0, len(order))
	for _, k := range order {
		if c, ok := build(groups[k]); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

func build(signals []model.Anomaly) (model.AlertCandidate, bool) {
	st := classify(signals)

	var severity model.AnomalySeverity
	switch {
	case st.HasLatency && st.HasError:
		severity = model.AnomalyHigh
	case st.HasLatency || st.HasError:
		severity = model.AnomalyMedium
	default:
		// Traffic-only groups are noise regardless of signal count.
		return model.AlertCandidate{}, false
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].MetricName != signals[j].MetricName {
			return signals[i].MetricName < signals[j].MetricName
		}
		return signals[i].DeviationRatio < signals[j].DeviationRatio
	})

	windowSec := signals[0].WindowSec
	if windowSec <= 0 {
		windowSec = DefaultWindowSec
	}
	start := signals[0].WindowStart

	return model.AlertCandidate{
		Endpoint:    signals[0].Endpoint,
		Severity:    severity,
		Signals:     signals,
		SignalTypes: st,
		WindowStart: start,
		WindowEnd:   start.Add(time.Duration(windowSec) * time.Second),
		// Drift context from the first signal only; contexts of later
		// signals in the group are not merged.
		DriftContext: signals[0].DriftContext,
	}, true
}

func classify(signals []model.Anomaly) model.SignalTypes {
	var st model.SignalTypes
	for _, s := range signals {
		switch s.MetricName {
		case model.MetricAvgLatency, model.MetricP50Latency, model.MetricP95Latency, model.MetricP99Latency:
			st.HasLatency = true
		case model.MetricErrorRate:
			st.HasError = true
		case model.MetricRequestVolume:
			st.HasTraffic = true
		}
	}
	return st
}
