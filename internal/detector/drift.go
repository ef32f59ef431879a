package detector

import (
	"math"

	"driftwatch/internal/model"
)

// Drift confidence scoring: a 0-1 estimate of whether a trend, not a single
// spike, is underway for an endpoint. Scores combine a least-squares slope
// term, a percentage rate-of-change term, and (for latency) a low-volatility
// bonus that rewards steady climbs over noisy ones.

const (
	latencySlopeWeight   = 0.4
	latencySlopeNorm     = 10.0
	latencyPctWeight     = 0.4
	latencyPctNorm       = 0.5
	latencyPctFloor      = 0.05
	latencyVolWeight     = 0.2
	latencyVolCeiling    = 0.3
	errorSlopeWeight     = 0.5
	errorSlopeNorm       = 0.01
	errorPctWeight       = 0.5
	errorPctNorm         = 1.0
	errorPctFloor        = 0.10
	trafficPctNorm       = 2.0
	trafficPctFloor      = 0.20
	latencySustainedMin  = 0.6
	errorSustainedMin    = 0.5
)

type trend struct {
	slope      float64
	pctRate    float64
	volatility float64
}

func fitTrend(values []float64) trend {
	n := len(values)
	if n < 2 {
		return trend{}
	}

	// Ordinary least squares over x = 0..n-1.
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	var slope float64
	if denom != 0 {
		slope = (fn*sumXY - sumX*sumY) / denom
	}

	first, last := values[0], values[n-1]
	var pctRate float64
	if first != 0 {
		pctRate = (last - first) / fn / first
	}

	mean := sumY / fn
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= fn
	var volatility float64
	if mean != 0 {
		volatility = math.Sqrt(variance) / mean
	}

	return trend{slope: slope, pctRate: pctRate, volatility: volatility}
}

func latencyDriftScore(values []float64) float64 {
	t := fitTrend(values)
	score := 0.0
	if t.slope > 0 {
		score += latencySlopeWeight * math.Min(math.Abs(t.slope)/latencySlopeNorm, 1.0)
	}
	if t.pctRate > latencyPctFloor {
		score += latencyPctWeight * math.Min(t.pctRate/latencyPctNorm, 1.0)
	}
	if t.volatility < latencyVolCeiling {
		score += latencyVolWeight * (1.0 - t.volatility/latencyVolCeiling)
	}
	return math.Min(score, 1.0)
}

func errorDriftScore(values []float64) float64 {
	t := fitTrend(values)
	score := 0.0
	if t.slope > 0 {
		score += errorSlopeWeight * math.Min(t.slope/errorSlopeNorm, 1.0)
	}
	if t.pctRate > errorPctFloor {
		score += errorPctWeight * math.Min(t.pctRate/errorPctNorm, 1.0)
	}
	return math.Min(score, 1.0)
}

func trafficAnomalyScore(values []float64) float64 {
	t := fitTrend(values)
	pct := math.Abs(t.pctRate)
	if pct <= trafficPctFloor {
		return 0
	}
	return math.Min(pct/trafficPctNorm, 1.0)
}

// driftContext scores the recent trend of an endpoint from its aggregate
// history. The sustained flag here reflects only the drift scores; the
// detector additionally raises it per metric on long anomaly streaks.
func driftContext(hist []model.AggregateWindow) model.DriftContext {
	latencies := make([]float64, 0, len(hist))
	errorRates := make([]float64, 0, len(hist))
	volumes := make([]float64, 0, len(hist))
	for _, w := range hist {
		latencies = append(latencies, w.AvgLatency)
		errorRates = append(errorRates, w.ErrorRate)
		volumes = append(volumes, float64(w.RequestVolume))
	}
	ctx := model.DriftContext{
		LatencyDriftScore:   latencyDriftScore(latencies),
		ErrorDriftScore:     errorDriftScore(errorRates),
		TrafficAnomalyScore: trafficAnomalyScore(volumes),
	}
	ctx.IsSustainedDegradation = ctx.LatencyDriftScore > latencySustainedMin ||
		ctx.ErrorDriftScore > errorSustainedMin
	return ctx
}
