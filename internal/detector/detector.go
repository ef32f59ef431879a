package detector

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"driftwatch/internal/baseline"
	"driftwatch/internal/history"
	"driftwatch/internal/model"
)

// Config carries the anomaly-decision thresholds.
type Config struct {
	MinBaselineCount  int64
	ZRollingThreshold float64
	ZEWMAThreshold    float64
	TrendHistory      int
	SustainedStreak   int
}

func DefaultConfig() Config {
	return Config{
		MinBaselineCount:  10,
		ZRollingThreshold: 2.0,
		ZEWMAThreshold:    1.5,
		TrendHistory:      10,
		SustainedStreak:   3,
	}
}

// detectionMetrics are the per-window metrics compared against baselines.
var detectionMetrics = []string{
	model.MetricAvgLatency,
	model.MetricP95Latency,
	model.MetricErrorRate,
	model.MetricRequestVolume,
}

// Detector compares each new aggregate window against its baselines and
// recent trend, emitting point anomalies annotated with drift confidence.
type Detector struct {
	cfg       Config
	baselines *baseline.Tracker
	history   *history.Store
	logger    *slog.Logger

	mu      sync.Mutex
	streaks map[string]int
}

func New(cfg Config, baselines *baseline.Tracker, hist *history.Store, logger *slog.Logger) *Detector {
	if cfg.MinBaselineCount <= 0 {
		cfg.MinBaselineCount = 10
	}
	if cfg.ZRollingThreshold <= 0 {
		cfg.ZRollingThreshold = 2.0
	}
	if cfg.ZEWMAThreshold <= 0 {
		cfg.ZEWMAThreshold = 1.5
	}
	if cfg.TrendHistory <= 0 {
		cfg.TrendHistory = 10
	}
	if cfg.SustainedStreak <= 0 {
		cfg.SustainedStreak = 3
	}
	return &Detector{
		cfg:       cfg,
		baselines: baselines,
		history:   hist,
		logger:    logger,
		streaks:   make(map[string]int),
	}
}

// Detect evaluates a batch of aggregate windows. Windows whose baselines hold
// fewer than the minimum sample count produce no anomalies; that is missing
// data, not an error.
func (d *Detector) Detect(windows []model.AggregateWindow) []model.Anomaly {
	anomalies := make([]model.Anomaly, 0)
	for _, w := range windows {
		ctx := d.endpointContext(w)
		for _, metric := range detectionMetrics {
			value, ok := w.Metric(metric)
			if !ok {
				continue
			}
			if a, ok := d.evaluate(w, metric, value, ctx); ok {
				anomalies = append(anomalies, a)
			}
		}
	}
	return anomalies
}

// UpdateBaselines folds a batch of aggregate windows into the baseline
// tracker. Callers run Detect first so an anomalous value is judged against
// a baseline it has not yet contaminated.
func (d *Detector) UpdateBaselines(windows []model.AggregateWindow) {
	for _, w := range windows {
		for _, metric := range detectionMetrics {
			if value, ok := w.Metric(metric); ok {
				d.baselines.Update(w.Endpoint, metric, value, w.WindowEnd)
			}
		}
	}
}

func (d *Detector) endpointContext(w model.AggregateWindow) model.DriftContext {
	if d.history == nil {
		return model.DriftContext{}
	}
	hist := d.history.Recent(w.Endpoint, w.WindowSec, d.cfg.TrendHistory)
	return driftContext(hist)
}

func (d *Detector) evaluate(w model.AggregateWindow, metric string, value float64, ctx model.DriftContext) (model.Anomaly, bool) {
	streakKey := w.Endpoint + "|" + metric

	stat, ok := d.baselines.Get(w.Endpoint, metric)
	if !ok || stat.Count < d.cfg.MinBaselineCount {
		d.setStreak(streakKey, 0)
		return model.Anomaly{}, false
	}

	var zRolling, zEWMA float64
	if stat.Std > 0 {
		zRolling = (value - stat.Mean) / stat.Std
	}
	if ewmaStd := baseline.EWMAStd(stat); ewmaStd > 0 {
		zEWMA = (value - stat.EWMA) / ewmaStd
	}

	isAnomaly := math.Abs(zRolling) >= d.cfg.ZRollingThreshold ||
		math.Abs(zEWMA) >= d.cfg.ZEWMAThreshold
	if !isAnomaly {
		d.setStreak(streakKey, 0)
		return model.Anomaly{}, false
	}
	streak := d.bumpStreak(streakKey)

	// The conservative signal: the larger of the two z-scores.
	z := math.Max(math.Abs(zRolling), math.Abs(zEWMA))
	severity := model.AnomalyLow
	switch {
	case z >= 3.0:
		severity = model.AnomalyHigh
	case z >= 2.0:
		severity = model.AnomalyMedium
	}

	if streak >= d.cfg.SustainedStreak {
		ctx.IsSustainedDegradation = true
	}

	deviation := (value - stat.Mean) / math.Max(math.Abs(stat.Mean), 1.0)
	signed := zRolling
	if math.Abs(zEWMA) > math.Abs(zRolling) {
		signed = zEWMA
	}

	if d.logger != nil {
		d.logger.Debug("anomaly detected",
			"endpoint", w.Endpoint,
			"metric", metric,
			"value", value,
			"baseline_mean", stat.Mean,
			"z_score", signed,
			"severity", severity,
		)
	}

	return model.Anomaly{
		Endpoint:       w.Endpoint,
		WindowStart:    w.WindowEnd.Add(-time.Duration(w.WindowSec) * time.Second),
		WindowSec:      w.WindowSec,
		MetricName:     metric,
		CurrentValue:   value,
		BaselineValue:  stat.Mean,
		ZScore:         signed,
		DeviationRatio: deviation,
		Severity:       severity,
		DriftContext:   ctx,
	}, true
}

// Reset clears consecutive-anomaly streaks.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.streaks = make(map[string]int)
	d.mu.Unlock()
}

func (d *Detector) setStreak(key string, v int) {
	d.mu.Lock()
	if v == 0 {
		delete(d.streaks, key)
	} else {
		d.streaks[key] = v
	}
	d.mu.Unlock()
}

func (d *Detector) bumpStreak(key string) int {
	d.mu.Lock()
	d.streaks[key]++
	v := d.streaks[key]
	d.mu.Unlock()
	return v
}
