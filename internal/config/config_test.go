package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
log_level: debug

ingest:
  rest:
    enabled: true
    addr: ":9090"
  kafka:
    enabled: true
    brokers: ["localhost:9092"]
    topic: api-logs
    group_id: driftwatch

aggregation:
  windows: [60s, 300s]

detection:
  interval: 30s
  detection_window: 60s
  min_baseline_count: 12
  z_rolling_threshold: 2.5

alerting:
  dedup_window: 300s
  cooldowns:
    critical: 120s
  channels:
    CRITICAL: ["console", "slack"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Ingest.REST.Addr != ":9090" {
		t.Errorf("rest addr = %q", cfg.Ingest.REST.Addr)
	}
	if cfg.Ingest.Kafka.Topic != "api-logs" {
		t.Errorf("kafka topic = %q", cfg.Ingest.Kafka.Topic)
	}
	if len(cfg.Aggregation.Windows) != 2 || cfg.Aggregation.Windows[1] != 300*time.Second {
		t.Errorf("windows = %v", cfg.Aggregation.Windows)
	}
	if cfg.Detection.Interval != 30*time.Second {
		t.Errorf("interval = %s", cfg.Detection.Interval)
	}
	if cfg.Detection.MinBaselineCount != 12 {
		t.Errorf("min_baseline_count = %d", cfg.Detection.MinBaselineCount)
	}
	if cfg.Alerting.Cooldowns.Critical != 120*time.Second {
		t.Errorf("critical cooldown = %s", cfg.Alerting.Cooldowns.Critical)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{
  "log_level": "warn",
  "detection": {"detection_window": 300000000000},
  "aggregation": {"windows": [300000000000]}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Detection.DetectionWindow != 300*time.Second {
		t.Errorf("detection_window = %s", cfg.Detection.DetectionWindow)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "minimal.yaml", "log_level: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Aggregation.Windows) != 3 {
		t.Errorf("default windows = %v", cfg.Aggregation.Windows)
	}
	if cfg.Detection.ZRollingThreshold != 2.0 || cfg.Detection.ZEWMAThreshold != 1.5 {
		t.Errorf("default thresholds = %v / %v", cfg.Detection.ZRollingThreshold, cfg.Detection.ZEWMAThreshold)
	}
	if cfg.Detection.EWMAAlpha != 0.1 {
		t.Errorf("default ewma_alpha = %v", cfg.Detection.EWMAAlpha)
	}
	if cfg.Alerting.Cooldowns.Warn != 1800*time.Second {
		t.Errorf("default warn cooldown = %s", cfg.Alerting.Cooldowns.Warn)
	}
	if len(cfg.Alerting.Channels["CRITICAL"]) == 0 {
		t.Error("default channel routes missing")
	}
}

func TestLoadEmptyFileFails(t *testing.T) {
	path := writeTemp(t, "empty.yaml", "   \n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty config file")
	}
}

func TestValidateDetectionWindowMembership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.DetectionWindow = 45 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for detection_window outside aggregation.windows")
	}
}

func TestValidateKafkaRequiresBrokersTopicGroup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingest.Kafka.Enabled = true
	cfg.Ingest.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Ingest.Kafka.Topic = "api-logs"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for kafka without group_id")
	}
}

func TestValidateUnknownChannelSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerting.Channels["FATAL"] = []string{"console"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown severity key")
	}
}

func TestManagerReloadPicksUpChanges(t *testing.T) {
	path := writeTemp(t, "config.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("initial log_level = %q", m.Get().LogLevel)
	}

	// Backdate so the rewrite is guaranteed to look newer.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Fatal("expected NeedsReload after file rewrite")
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("reloaded log_level = %q", cfg.LogLevel)
	}
}

func TestStaticManagerHasNoPath(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Path() != "" {
		t.Errorf("static manager path = %q", m.Path())
	}
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Errorf("NeedsReload = %v, %v", needs, err)
	}
	if m.Get().Detection.MinBaselineCount != 10 {
		t.Errorf("static defaults not applied: %+v", m.Get().Detection)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := DefaultConfig()
	cfg.LogLevel = "error"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LogLevel != "error" {
		t.Errorf("round-tripped log_level = %q", loaded.LogLevel)
	}
}
