package runner

import (
	"context"
	"log/slog"
	"time"

	"driftwatch/internal/aggregator"
	"driftwatch/internal/alerting"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/correlator"
	"driftwatch/internal/detector"
	"driftwatch/internal/history"
	"driftwatch/internal/model"
	"driftwatch/internal/storage"
	"driftwatch/internal/telemetry"
)

// Runner drives the pipeline: it drains ingested records into the
// aggregator and runs the periodic detection cycle that turns aggregates
// into alerts.
type Runner struct {
	cfg       *config.Manager
	agg       *aggregator.Aggregator
	det       *detector.Detector
	baselines *baseline.Tracker
	hist      *history.Store
	explainer alerting.Explainer
	manager   *alerting.Manager
	store     storage.Store
	records   <-chan model.LogRecord
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	cfg *config.Manager,
	agg *aggregator.Aggregator,
	det *detector.Detector,
	baselines *baseline.Tracker,
	hist *history.Store,
	explainer alerting.Explainer,
	manager *alerting.Manager,
	store storage.Store,
	records <-chan model.LogRecord,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		cfg:       cfg,
		agg:       agg,
		det:       det,
		baselines: baselines,
		hist:      hist,
		explainer: explainer,
		manager:   manager,
		store:     store,
		records:   records,
		logger:    logger,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, consuming records and firing detection
// cycles on the configured interval.
func (r *Runner) Run(ctx context.Context) {
	go r.consume(ctx)

	interval := r.cfg.Get().Detection.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if r.logger != nil {
		r.logger.Info("detection loop started", "interval", interval)
	}
	for {
		select {
		case <-ctx.Done():
			if r.logger != nil {
				r.logger.Info("detection loop stopped")
			}
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Runner) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-r.records:
			if !ok {
				return
			}
			before := r.agg.Dropped()
			r.agg.Record(rec)
			if r.agg.Dropped() > before {
				telemetry.RecordDropped()
			} else {
				telemetry.RecordIngested(rec.Source)
			}
		}
	}
}

// Reset clears all learned detection state without touching stored alerts.
func (r *Runner) Reset() {
	r.det.Reset()
	r.baselines.Reset()
}

// RunOnce executes a single detection cycle: snapshot, detect, fold
// baselines, correlate, explain, alert.
func (r *Runner) RunOnce(ctx context.Context) {
	started := time.Now()
	now := r.now().UTC()
	cfg := r.cfg.Get()

	all := r.agg.Snapshot(now)
	if len(all) > 0 {
		r.hist.Append(all)
		if r.store != nil {
			if err := r.store.SaveWindows(ctx, all); err != nil && r.logger != nil {
				r.logger.Warn("window persist failed", "err", err)
			}
		}
	}

	detWindows, err := r.agg.SnapshotWindow(cfg.Detection.DetectionWindow, now)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("detection snapshot failed", "err", err)
		}
		return
	}

	anomalies := r.det.Detect(detWindows)
	r.det.UpdateBaselines(detWindows)

	for _, a := range anomalies {
		telemetry.AnomalyDetected(a.MetricName)
	}

	candidates := correlator.Correlate(anomalies)
	sent := 0
	for _, cand := range candidates {
		if r.explainer != nil {
			cand = r.explainer.Explain(cand)
		}
		if r.manager.Process(cand) {
			sent++
		}
	}

	if cfg.Detection.BaselineRetention > 0 {
		if pruned := r.baselines.Prune(cfg.Detection.BaselineRetention, now); pruned > 0 && r.logger != nil {
			r.logger.Debug("pruned stale baselines", "count", pruned)
		}
	}

	telemetry.ObserveDetectionCycle(time.Since(started))
	if r.logger != nil && (len(anomalies) > 0 || len(candidates) > 0) {
		r.logger.Info("detection cycle complete",
			"windows", len(detWindows),
			"anomalies", len(anomalies),
			"candidates", len(candidates),
			"alerts_sent", sent,
			"elapsed", time.Since(started),
		)
	}
}
