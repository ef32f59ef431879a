package model

import "time"

// Metric names produced by the aggregator and referenced throughout the
// detection pipeline.
const (
	MetricAvgLatency    = "avg_latency"
	MetricP50Latency    = "p50_latency"
	MetricP95Latency    = "p95_latency"
	MetricP99Latency    = "p99_latency"
	MetricErrorRate     = "error_rate"
	MetricRequestVolume = "request_volume"
)

// AnomalySeverity ranks a single metric deviation.
type AnomalySeverity string

const (
	AnomalyLow    AnomalySeverity = "LOW"
	AnomalyMedium AnomalySeverity = "MEDIUM"
	AnomalyHigh   AnomalySeverity = "HIGH"
)

// AlertSeverity ranks a delivered alert and selects cooldowns and channels.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarn     AlertSeverity = "WARN"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus tracks the lifecycle of a stored alert. Transitions past
// "active" are driven by operators, not by the pipeline.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
)

// LogRecord is one observed API request. Records are consumed once by the
// aggregator and not retained.
type LogRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint"`
	StatusCode   int       `json:"status_code"`
	LatencyMS    float64   `json:"latency_ms"`
	ResponseSize int64     `json:"response_size"`
	Source       string    `json:"source,omitempty"`
}

// AggregateWindow summarizes requests for one endpoint over one window size.
// Immutable once produced.
type AggregateWindow struct {
	Endpoint      string    `json:"endpoint"`
	WindowSec     int       `json:"window_sec"`
	WindowEnd     time.Time `json:"window_end"`
	AvgLatency    float64   `json:"avg_latency"`
	P50Latency    float64   `json:"p50_latency"`
	P95Latency    float64   `json:"p95_latency"`
	P99Latency    float64   `json:"p99_latency"`
	ErrorRate     float64   `json:"error_rate"`
	RequestVolume int       `json:"request_volume"`
}

// Metric returns the named metric value from the window.
func (w AggregateWindow) Metric(name string) (float64, bool) {
	switch name {
	case MetricAvgLatency:
		return w.AvgLatency, true
	case MetricP50Latency:
		return w.P50Latency, true
	case MetricP95Latency:
		return w.P95Latency, true
	case MetricP99Latency:
		return w.P99Latency, true
	case MetricErrorRate:
		return w.ErrorRate, true
	case MetricRequestVolume:
		return float64(w.RequestVolume), true
	}
	return 0, false
}

// BaselineStat is the running statistical model of one metric for one
// endpoint: Welford mean/std plus an EWMA mean and EWMA variance.
type BaselineStat struct {
	Mean         float64   `json:"mean"`
	Std          float64   `json:"std"`
	EWMA         float64   `json:"ewma"`
	EWMAVariance float64   `json:"ewma_variance"`
	Count        int64     `json:"count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// DriftContext annotates anomalies with trend confidence for the endpoint.
type DriftContext struct {
	LatencyDriftScore      float64 `json:"latency_drift_score"`
	ErrorDriftScore        float64 `json:"error_drift_score"`
	TrafficAnomalyScore    float64 `json:"traffic_anomaly_score"`
	IsSustainedDegradation bool    `json:"is_sustained_degradation"`
}

// Anomaly is a single metric observed to deviate from its baseline.
type Anomaly struct {
	Endpoint       string          `json:"endpoint"`
	WindowStart    time.Time       `json:"window_start"`
	WindowSec      int             `json:"window_sec"`
	MetricName     string          `json:"metric_name"`
	CurrentValue   float64         `json:"current_value"`
	BaselineValue  float64         `json:"baseline_value"`
	ZScore         float64         `json:"z_score"`
	DeviationRatio float64         `json:"deviation_ratio"`
	Severity       AnomalySeverity `json:"severity"`
	DriftContext   DriftContext    `json:"drift_context"`
}

// SignalTypes records which classes of metric anomalies corroborate a
// candidate.
type SignalTypes struct {
	HasLatency bool `json:"has_latency"`
	HasError   bool `json:"has_error"`
	HasTraffic bool `json:"has_traffic"`
}

// AlertCandidate groups corroborating anomalies for one endpoint and window.
// Severity is assigned by the correlator; the alert manager classifies only
// candidates that arrive without one.
type AlertCandidate struct {
	Endpoint        string          `json:"endpoint"`
	Severity        AnomalySeverity `json:"severity,omitempty"`
	Signals         []Anomaly       `json:"signals"`
	SignalTypes     SignalTypes     `json:"signal_types"`
	WindowStart     time.Time       `json:"window_start"`
	WindowEnd       time.Time       `json:"window_end"`
	DriftContext    DriftContext    `json:"drift_context"`
	Explanation     string          `json:"explanation,omitempty"`
	Insights        []string        `json:"insights,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Alert is the final routed and persisted notification.
type Alert struct {
	ID              string        `json:"id"`
	Endpoint        string        `json:"endpoint"`
	Severity        AlertSeverity `json:"severity"`
	Signals         []Anomaly     `json:"signals"`
	SignalTypes     SignalTypes   `json:"signal_types"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	DriftContext    DriftContext  `json:"drift_context"`
	Explanation     string        `json:"explanation,omitempty"`
	Insights        []string      `json:"insights,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          AlertStatus   `json:"status"`
}
