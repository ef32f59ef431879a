package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/aggregator"
	"driftwatch/internal/alerting"
	"driftwatch/internal/alerts"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/detector"
	"driftwatch/internal/history"
	"driftwatch/internal/model"
)

type captureChannel struct {
	sends []model.Alert
}

func (c *captureChannel) Name() string { return "console" }
func (c *captureChannel) Send(alert model.Alert) error {
	c.sends = append(c.sends, alert)
	return nil
}

type pipeline struct {
	runner  *Runner
	agg     *aggregator.Aggregator
	console *captureChannel
	store   *alerts.Store
	clock   time.Time
}

func newPipeline() *pipeline {
	cfg := config.DefaultConfig()
	cfg.Aggregation.Windows = []time.Duration{60 * time.Second}
	cfg.Detection.DetectionWindow = 60 * time.Second
	// The deterministic jitter patterns below need the EWMA variance past its
	// warm-up transient before detection starts judging.
	cfg.Detection.MinBaselineCount = 20
	manager := config.NewStaticManager(cfg)

	agg := aggregator.New(cfg.Aggregation.Windows, nil)
	baselines := baseline.NewTracker(cfg.Detection.EWMAAlpha)
	hist := history.NewStore(cfg.History.PerKeyLimit, cfg.History.KeyLimit)
	det := detector.New(detector.Config{
		MinBaselineCount:  cfg.Detection.MinBaselineCount,
		ZRollingThreshold: cfg.Detection.ZRollingThreshold,
		ZEWMAThreshold:    cfg.Detection.ZEWMAThreshold,
		TrendHistory:      cfg.Detection.TrendHistory,
		SustainedStreak:   cfg.Detection.SustainedStreak,
	}, baselines, hist, nil)

	console := &captureChannel{}
	store := alerts.NewStore(100)
	alertManager := alerting.NewManager(alerting.Config{
		DedupWindow: cfg.Alerting.DedupWindow,
		Cooldowns: map[model.AlertSeverity]time.Duration{
			model.SeverityInfo:     cfg.Alerting.Cooldowns.Info,
			model.SeverityWarn:     cfg.Alerting.Cooldowns.Warn,
			model.SeverityCritical: cfg.Alerting.Cooldowns.Critical,
		},
		Routes: map[model.AlertSeverity][]string{
			model.SeverityInfo:     {"console"},
			model.SeverityWarn:     {"console"},
			model.SeverityCritical: {"console"},
		},
	}, store, []alerting.Channel{console}, nil)

	run := New(manager, agg, det, baselines, hist, alerting.NewTemplateExplainer(), alertManager, nil, nil, nil)

	p := &pipeline{
		runner:  run,
		agg:     agg,
		console: console,
		store:   store,
		// Virtual time starts now and moves forward so sliding windows evict
		// prior cycles naturally.
		clock: time.Now().UTC().Truncate(time.Second),
	}
	run.now = func() time.Time { return p.clock }
	return p
}

// cycle feeds one minute of traffic and runs a detection pass.
func (p *pipeline) cycle(latency float64, status int) {
	for i := 0; i < 20; i++ {
		p.agg.Record(model.LogRecord{
			Timestamp:  p.clock.Add(-30 * time.Second),
			Endpoint:   "/checkout",
			StatusCode: status,
			LatencyMS:  latency,
		})
	}
	p.runner.RunOnce(context.Background())
	p.clock = p.clock.Add(60 * time.Second)
}

func TestStableTrafficThenSpikeAlertsOnce(t *testing.T) {
	p := newPipeline()

	// An hour of healthy traffic; per-cycle averages alternate 99/101 so the
	// baseline has a small non-zero spread.
	for i := 0; i < 60; i++ {
		latency := 99.0
		if i%2 == 1 {
			latency = 101.0
		}
		p.cycle(latency, 200)
	}
	if len(p.console.sends) != 0 {
		t.Fatalf("healthy traffic produced %d alerts", len(p.console.sends))
	}

	// Latency spike.
	p.cycle(350, 200)
	if len(p.console.sends) != 1 {
		t.Fatalf("spike should produce exactly one alert, got %d", len(p.console.sends))
	}
	alert := p.console.sends[0]
	if alert.Severity != model.SeverityWarn {
		t.Fatalf("latency-only spike severity = %s, want WARN", alert.Severity)
	}
	if alert.Endpoint != "/checkout" {
		t.Fatalf("endpoint = %s", alert.Endpoint)
	}
	if !strings.Contains(alert.Explanation, "average latency increased") {
		t.Fatalf("explanation = %q", alert.Explanation)
	}
	if len(alert.Signals) == 0 {
		t.Fatalf("alert should carry the triggering signals")
	}
	for _, s := range alert.Signals {
		if s.ZScore <= 2.0 {
			t.Fatalf("signal %s z-score = %v, want large and positive", s.MetricName, s.ZScore)
		}
	}

	// The spike persists; the dedup window swallows the repeat.
	p.cycle(350, 200)
	if len(p.console.sends) != 1 {
		t.Fatalf("repeat spike inside dedup window should be suppressed, got %d alerts", len(p.console.sends))
	}

	// The stored copy is queryable.
	stored := p.store.List(0, "")
	if len(stored) != 1 {
		t.Fatalf("stored alerts = %d, want 1", len(stored))
	}
	if stored[0].Status != model.StatusActive {
		t.Fatalf("stored status = %s, want active", stored[0].Status)
	}
	if stored[0].ID == "" {
		t.Fatalf("stored alert must have an ID")
	}
}

func TestErrorBurstEscalatesToCritical(t *testing.T) {
	p := newPipeline()

	// Healthy traffic with an occasional error so the error-rate baseline has
	// spread; averages alternate as above.
	for i := 0; i < 60; i++ {
		latency := 99.0
		if i%2 == 1 {
			latency = 101.0
		}
		status := 200
		p.cycle(latency, status)
		// One failing request per odd cycle gives error rate 0 / ~0.048.
		if i%2 == 1 {
			p.agg.Record(model.LogRecord{
				Timestamp:  p.clock.Add(-30 * time.Second),
				Endpoint:   "/checkout",
				StatusCode: 500,
				LatencyMS:  latency,
			})
		}
	}

	// Simultaneous latency and error degradation.
	for i := 0; i < 20; i++ {
		status := 200
		if i < 10 {
			status = 503
		}
		p.agg.Record(model.LogRecord{
			Timestamp:  p.clock.Add(-30 * time.Second),
			Endpoint:   "/checkout",
			StatusCode: status,
			LatencyMS:  400,
		})
	}
	p.runner.RunOnce(context.Background())

	if len(p.console.sends) != 1 {
		t.Fatalf("expected one alert, got %d", len(p.console.sends))
	}
	alert := p.console.sends[0]
	if alert.Severity != model.SeverityCritical {
		t.Fatalf("latency+error severity = %s, want CRITICAL", alert.Severity)
	}
	if !alert.SignalTypes.HasLatency || !alert.SignalTypes.HasError {
		t.Fatalf("signal types = %+v", alert.SignalTypes)
	}
	if !strings.Contains(alert.Explanation, "backend degradation") {
		t.Fatalf("explanation should interpret the pattern: %q", alert.Explanation)
	}
}

func TestResetClearsLearnedState(t *testing.T) {
	p := newPipeline()
	for i := 0; i < 20; i++ {
		latency := 99.0
		if i%2 == 1 {
			latency = 101.0
		}
		p.cycle(latency, 200)
	}
	p.runner.Reset()

	// With baselines gone, even a huge spike has no reference to deviate from.
	p.cycle(350, 200)
	if len(p.console.sends) != 0 {
		t.Fatalf("reset should clear baselines, got %d alerts", len(p.console.sends))
	}
}
