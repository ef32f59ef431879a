package correlator

import (
	"testing"
	"time"

	"driftwatch/internal/model"
)

func anomaly(endpoint, metric string, start time.Time) model.Anomaly {
	return model.Anomaly{
		Endpoint:    endpoint,
		WindowStart: start,
		WindowSec:   60,
		MetricName:  metric,
		Severity:    model.AnomalyMedium,
	}
}

func TestLatencyAndErrorEscalatesToHigh(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := Correlate([]model.Anomaly{
		anomaly("/checkout", model.MetricAvgLatency, start),
		anomaly("/checkout", model.MetricErrorRate, start),
	})
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %d", len(got))
	}
	c := got[0]
	if c.Severity != model.AnomalyHigh {
		t.Fatalf("severity = %s, want HIGH", c.Severity)
	}
	if !c.SignalTypes.HasLatency || !c.SignalTypes.HasError || c.SignalTypes.HasTraffic {
		t.Fatalf("signal types = %+v", c.SignalTypes)
	}
	if len(c.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(c.Signals))
	}
	if c.WindowEnd != start.Add(60*time.Second) {
		t.Fatalf("window end = %v, want start+60s", c.WindowEnd)
	}
}

func TestSingleSignalIsMedium(t *testing.T) {
	start := time.Now().UTC()
	for _, metric := range []string{model.MetricAvgLatency, model.MetricP95Latency, model.MetricErrorRate} {
		got := Correlate([]model.Anomaly{anomaly("/checkout", metric, start)})
		if len(got) != 1 {
			t.Fatalf("%s: expected one candidate", metric)
		}
		if got[0].Severity != model.AnomalyMedium {
			t.Fatalf("%s: severity = %s, want MEDIUM", metric, got[0].Severity)
		}
	}
}

func TestTrafficOnlyIsSuppressed(t *testing.T) {
	start := time.Now().UTC()
	got := Correlate([]model.Anomaly{anomaly("/checkout", model.MetricRequestVolume, start)})
	if len(got) != 0 {
		t.Fatalf("traffic-only group must be suppressed, got %d candidates", len(got))
	}
}

func TestTrafficCorroboratesButDoesNotEscalate(t *testing.T) {
	start := time.Now().UTC()
	got := Correlate([]model.Anomaly{
		anomaly("/checkout", model.MetricAvgLatency, start),
		anomaly("/checkout", model.MetricRequestVolume, start),
	})
	if len(got) != 1 {
		t.Fatalf("expected one candidate")
	}
	if got[0].Severity != model.AnomalyMedium {
		t.Fatalf("latency+traffic severity = %s, want MEDIUM", got[0].Severity)
	}
	if !got[0].SignalTypes.HasTraffic {
		t.Fatalf("traffic signal must be carried as corroboration")
	}
}

func TestGroupingByEndpointAndWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := Correlate([]model.Anomaly{
		anomaly("/checkout", model.MetricAvgLatency, start),
		anomaly("/search", model.MetricErrorRate, start),
		anomaly("/checkout", model.MetricErrorRate, start.Add(time.Minute)),
	})
	if len(got) != 3 {
		t.Fatalf("expected three separate candidates, got %d", len(got))
	}
	// Deterministic ordering: endpoint, then window start.
	if got[0].Endpoint != "/checkout" || got[1].Endpoint != "/checkout" || got[2].Endpoint != "/search" {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].Endpoint, got[1].Endpoint, got[2].Endpoint)
	}
	if !got[0].WindowStart.Before(got[1].WindowStart) {
		t.Fatalf("same-endpoint candidates must be ordered by window start")
	}
}

func TestEmptyInput(t *testing.T) {
	if got := Correlate(nil); got != nil {
		t.Fatalf("expected nil for empty input")
	}
}
