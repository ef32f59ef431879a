package alerting

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"driftwatch/internal/model"
)

type fakeChannel struct {
	name  string
	sends []model.Alert
	err   error
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Send(alert model.Alert) error {
	f.sends = append(f.sends, alert)
	return f.err
}

type fakeStore struct {
	stored []model.Alert
	err    error
}

func (f *fakeStore) Store(alert model.Alert) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, alert)
	return "alert-1", nil
}

func testPolicy() Config {
	cfg := DefaultPolicy()
	cfg.DedupWindow = 0
	cfg.Cooldowns = map[model.AlertSeverity]time.Duration{
		model.SeverityInfo:     0,
		model.SeverityWarn:     0,
		model.SeverityCritical: 0,
	}
	return cfg
}

func candidate(severity model.AnomalySeverity) model.AlertCandidate {
	return model.AlertCandidate{
		Endpoint: "/checkout",
		Severity: severity,
		Signals: []model.Anomaly{{
			Endpoint:     "/checkout",
			MetricName:   model.MetricAvgLatency,
			CurrentValue: 350,
			ZScore:       5,
		}},
		SignalTypes: model.SignalTypes{HasLatency: true},
	}
}

func managerAt(cfg Config, store AlertStore, channels []Channel, start time.Time) (*Manager, *time.Time) {
	m := NewManager(cfg, store, channels, nil)
	clock := start
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		in   model.AnomalySeverity
		want model.AlertSeverity
	}{
		{model.AnomalyHigh, model.SeverityCritical},
		{model.AnomalyMedium, model.SeverityWarn},
		{model.AnomalyLow, model.SeverityInfo},
	}
	for _, c := range cases {
		console := &fakeChannel{name: "console"}
		cfg := testPolicy()
		cfg.Routes = map[model.AlertSeverity][]string{c.want: {"console"}}
		m, _ := managerAt(cfg, nil, []Channel{console}, time.Now())
		if !m.Process(candidate(c.in)) {
			t.Fatalf("%s: expected alert to send", c.in)
		}
		if len(console.sends) != 1 || console.sends[0].Severity != c.want {
			t.Fatalf("%s: mapped severity wrong", c.in)
		}
	}
}

func TestClassifyBackstopForUnratedCandidates(t *testing.T) {
	// error spike + latency spike together
	critical := []model.Anomaly{
		{MetricName: model.MetricErrorRate, CurrentValue: 0.08},
		{MetricName: model.MetricAvgLatency, DeviationRatio: 2.5},
	}
	if got := ClassifySeverity(critical); got != model.SeverityCritical {
		t.Fatalf("spike pair = %s, want CRITICAL", got)
	}
	if got := ClassifySeverity([]model.Anomaly{{Severity: model.AnomalyHigh}}); got != model.SeverityCritical {
		t.Fatalf("high signal must be CRITICAL")
	}
	if got := ClassifySeverity([]model.Anomaly{{}, {}, {}}); got != model.SeverityCritical {
		t.Fatalf("three signals must be CRITICAL")
	}
	if got := ClassifySeverity([]model.Anomaly{{MetricName: model.MetricErrorRate, CurrentValue: 0.08}}); got != model.SeverityWarn {
		t.Fatalf("error spike alone must be WARN")
	}
	if got := ClassifySeverity([]model.Anomaly{{MetricName: model.MetricAvgLatency, DeviationRatio: 0.5}}); got != model.SeverityInfo {
		t.Fatalf("mild single signal must be INFO")
	}
	if got := ClassifySeverity(nil); got != model.SeverityInfo {
		t.Fatalf("no signals must be INFO")
	}
}

func TestDedupWindowSuppressesRepeat(t *testing.T) {
	console := &fakeChannel{name: "console"}
	cfg := testPolicy()
	cfg.DedupWindow = 600 * time.Second
	m, clock := managerAt(cfg, nil, []Channel{console}, time.Unix(0, 0).UTC())

	if !m.Process(candidate(model.AnomalyMedium)) {
		t.Fatalf("first alert should send")
	}
	*clock = clock.Add(100 * time.Second)
	if m.Process(candidate(model.AnomalyMedium)) {
		t.Fatalf("repeat inside dedup window should be suppressed")
	}
	*clock = clock.Add(600 * time.Second)
	if !m.Process(candidate(model.AnomalyMedium)) {
		t.Fatalf("alert after dedup window should send")
	}
	if len(console.sends) != 2 {
		t.Fatalf("console sends = %d, want 2", len(console.sends))
	}
}

func TestCooldownPerSeverity(t *testing.T) {
	console := &fakeChannel{name: "console"}
	cfg := testPolicy()
	cfg.Cooldowns[model.SeverityCritical] = 300 * time.Second
	m, clock := managerAt(cfg, nil, []Channel{console}, time.Unix(0, 0).UTC())

	results := []bool{}
	for _, offset := range []time.Duration{0, 100 * time.Second, 400 * time.Second} {
		*clock = time.Unix(0, 0).UTC().Add(offset)
		results = append(results, m.Process(candidate(model.AnomalyHigh)))
	}
	want := []bool{true, false, true}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("submission %d: sent = %v, want %v", i, results[i], want[i])
		}
	}
}

func TestSuppressedSendNeverAdvancesCooldown(t *testing.T) {
	console := &fakeChannel{name: "console"}
	cfg := testPolicy()
	cfg.Cooldowns[model.SeverityCritical] = 300 * time.Second
	m, clock := managerAt(cfg, nil, []Channel{console}, time.Unix(0, 0).UTC())

	m.Process(candidate(model.AnomalyHigh)) // t=0, sends
	for _, offset := range []time.Duration{100, 200, 299} {
		*clock = time.Unix(0, 0).UTC().Add(offset * time.Second)
		if m.Process(candidate(model.AnomalyHigh)) {
			t.Fatalf("t=%v: should be suppressed", offset)
		}
	}
	// Had the drops advanced the window, t=301 would still be suppressed.
	*clock = time.Unix(0, 0).UTC().Add(301 * time.Second)
	if !m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("cooldown must run from the last successful send")
	}
}

func TestDifferentSeveritiesTrackedIndependently(t *testing.T) {
	console := &fakeChannel{name: "console"}
	cfg := testPolicy()
	cfg.DedupWindow = 600 * time.Second
	m, _ := managerAt(cfg, nil, []Channel{console}, time.Unix(0, 0).UTC())

	if !m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("critical should send")
	}
	if !m.Process(candidate(model.AnomalyMedium)) {
		t.Fatalf("warn for the same endpoint is a distinct dedup key")
	}
}

func TestConsoleFailureMeansNotSent(t *testing.T) {
	console := &fakeChannel{name: "console", err: errors.New("broken pipe")}
	slack := &fakeChannel{name: "slack"}
	cfg := testPolicy()
	cfg.Routes = map[model.AlertSeverity][]string{
		model.SeverityCritical: {"console", "slack"},
	}
	m, _ := managerAt(cfg, nil, []Channel{console, slack}, time.Now())

	if m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("console failure must report not sent")
	}
	if len(slack.sends) != 1 {
		t.Fatalf("secondary channels still get the alert")
	}
}

func TestSecondaryChannelFailureTolerated(t *testing.T) {
	console := &fakeChannel{name: "console"}
	slack := &fakeChannel{name: "slack", err: errors.New("webhook 500")}
	cfg := testPolicy()
	cfg.Routes = map[model.AlertSeverity][]string{
		model.SeverityCritical: {"console", "slack", "email"},
	}
	m, _ := managerAt(cfg, nil, []Channel{console, slack}, time.Now())

	if !m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("slack failure and missing email channel must not fail the alert")
	}
}

func TestStoreFailureDoesNotBlockNotification(t *testing.T) {
	console := &fakeChannel{name: "console"}
	store := &fakeStore{err: errors.New("db down")}
	m, _ := managerAt(testPolicy(), store, []Channel{console}, time.Now())

	if !m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("persistence is best-effort; notification must proceed")
	}
	if len(console.sends) != 1 || console.sends[0].ID == "" {
		t.Fatalf("alert must still carry a generated ID")
	}
}

func TestStoredAlertCarriesCandidateContent(t *testing.T) {
	console := &fakeChannel{name: "console"}
	store := &fakeStore{}
	m, _ := managerAt(testPolicy(), store, []Channel{console}, time.Now())

	c := candidate(model.AnomalyHigh)
	c.Explanation = "average latency increased 250.0% to 350.0ms (from 100.0ms) for /checkout over 1 minute."
	c.Insights = []string{"Latency increase affecting user experience"}
	m.Process(c)

	if len(store.stored) != 1 {
		t.Fatalf("expected one stored alert")
	}
	got := store.stored[0]
	if got.Explanation != c.Explanation || len(got.Insights) != 1 {
		t.Fatalf("stored alert lost explanation content")
	}
	if got.Status != model.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if console.sends[0].ID != "alert-1" {
		t.Fatalf("routed alert should carry the store-assigned ID")
	}
}

func TestClearSuppression(t *testing.T) {
	console := &fakeChannel{name: "console"}
	cfg := testPolicy()
	cfg.DedupWindow = 600 * time.Second
	m, _ := managerAt(cfg, nil, []Channel{console}, time.Unix(0, 0).UTC())

	m.Process(candidate(model.AnomalyHigh))
	if m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("expected suppression before clear")
	}
	m.ClearSuppression()
	if !m.Process(candidate(model.AnomalyHigh)) {
		t.Fatalf("expected send after ClearSuppression")
	}
}

func TestConsoleChannelOutput(t *testing.T) {
	var buf bytes.Buffer
	ch := NewConsoleChannel(&buf)
	err := ch.Send(model.Alert{
		Severity:    model.SeverityCritical,
		Endpoint:    "/checkout",
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Explanation: "error rate rose from 1.0% to 12.0%",
		Signals:     []model.Anomaly{{MetricName: model.MetricErrorRate, CurrentValue: 0.12, BaselineValue: 0.01, ZScore: 8.2}},
		Insights:    []string{"Rising error rate causing failed requests"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ALERT [CRITICAL] - /checkout", "error rate rose", "error_rate", "Rising error rate"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Fatalf("console output missing %q:\n%s", want, out)
		}
	}
}
