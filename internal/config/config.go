package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Aggregation AggregationConfig `json:"aggregation" yaml:"aggregation"`
	Detection   DetectionConfig   `json:"detection" yaml:"detection"`
	Alerting    AlertingConfig    `json:"alerting" yaml:"alerting"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	History     HistoryConfig     `json:"history" yaml:"history"`
	Alerts      AlertsConfig      `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type AggregationConfig struct {
	// Windows are the sliding window sizes maintained per endpoint.
	Windows []time.Duration `json:"windows" yaml:"windows"`
}

type DetectionConfig struct {
	// Interval between detection cycles.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// DetectionWindow selects which aggregation window feeds baselines and
	// anomaly decisions. Must be one of Aggregation.Windows.
	DetectionWindow time.Duration `json:"detection_window" yaml:"detection_window"`
	// MinBaselineCount is the minimum baseline sample count before a value
	// can be judged anomalous.
	MinBaselineCount int64 `json:"min_baseline_count" yaml:"min_baseline_count"`
	// ZRollingThreshold and ZEWMAThreshold gate the dual z-score decision.
	ZRollingThreshold float64 `json:"z_rolling_threshold" yaml:"z_rolling_threshold"`
	ZEWMAThreshold    float64 `json:"z_ewma_threshold" yaml:"z_ewma_threshold"`
	// EWMAAlpha is the smoothing factor for the baseline EWMA model.
	EWMAAlpha float64 `json:"ewma_alpha" yaml:"ewma_alpha"`
	// TrendHistory caps how many recent aggregates feed the trend fit.
	TrendHistory int `json:"trend_history" yaml:"trend_history"`
	// SustainedStreak is the consecutive-anomaly count that marks sustained
	// degradation independent of drift scores.
	SustainedStreak int `json:"sustained_streak" yaml:"sustained_streak"`
	// BaselineRetention prunes baselines not updated within the horizon.
	// Zero disables pruning.
	BaselineRetention time.Duration `json:"baseline_retention" yaml:"baseline_retention"`
}

type AlertingConfig struct {
	DedupWindow    time.Duration       `json:"dedup_window" yaml:"dedup_window"`
	Cooldowns      CooldownConfig      `json:"cooldowns" yaml:"cooldowns"`
	Channels       map[string][]string `json:"channels" yaml:"channels"`
	ChannelTimeout time.Duration       `json:"channel_timeout" yaml:"channel_timeout"`
	Slack          SlackConfig         `json:"slack" yaml:"slack"`
	Email          EmailConfig         `json:"email" yaml:"email"`
}

type CooldownConfig struct {
	Info     time.Duration `json:"info" yaml:"info"`
	Warn     time.Duration `json:"warn" yaml:"warn"`
	Critical time.Duration `json:"critical" yaml:"critical"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

type EmailConfig struct {
	SMTPServer string   `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort   int      `json:"smtp_port" yaml:"smtp_port"`
	Username   string   `json:"username" yaml:"username"`
	Password   string   `json:"password" yaml:"password"`
	From       string   `json:"from" yaml:"from"`
	To         []string `json:"to" yaml:"to"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type HistoryConfig struct {
	// PerKeyLimit bounds retained aggregate windows per (endpoint, window).
	PerKeyLimit int `json:"per_key_limit" yaml:"per_key_limit"`
	// KeyLimit bounds tracked (endpoint, window) keys.
	KeyLimit int `json:"key_limit" yaml:"key_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Aggregation: AggregationConfig{
			Windows: []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second},
		},
		Detection: DetectionConfig{
			Interval:          60 * time.Second,
			DetectionWindow:   60 * time.Second,
			MinBaselineCount:  10,
			ZRollingThreshold: 2.0,
			ZEWMAThreshold:    1.5,
			EWMAAlpha:         0.1,
			TrendHistory:      10,
			SustainedStreak:   3,
			BaselineRetention: 0,
		},
		Alerting: AlertingConfig{
			DedupWindow: 600 * time.Second,
			Cooldowns: CooldownConfig{
				Info:     3600 * time.Second,
				Warn:     1800 * time.Second,
				Critical: 300 * time.Second,
			},
			Channels: map[string][]string{
				"INFO":     {"console"},
				"WARN":     {"console", "slack"},
				"CRITICAL": {"console", "slack", "email"},
			},
			ChannelTimeout: 10 * time.Second,
			Email:          EmailConfig{SMTPPort: 587, From: "alerts@driftwatch.local"},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:driftwatch.db?_pragma=busy_timeout(5000)"},
		History: HistoryConfig{PerKeyLimit: 1000, KeyLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if len(cfg.Aggregation.Windows) == 0 {
		cfg.Aggregation.Windows = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	}
	if cfg.Detection.Interval <= 0 {
		cfg.Detection.Interval = 60 * time.Second
	}
	if cfg.Detection.DetectionWindow <= 0 {
		cfg.Detection.DetectionWindow = cfg.Aggregation.Windows[0]
	}
	if cfg.Detection.MinBaselineCount <= 0 {
		cfg.Detection.MinBaselineCount = 10
	}
	if cfg.Detection.ZRollingThreshold <= 0 {
		cfg.Detection.ZRollingThreshold = 2.0
	}
	if cfg.Detection.ZEWMAThreshold <= 0 {
		cfg.Detection.ZEWMAThreshold = 1.5
	}
	if cfg.Detection.EWMAAlpha <= 0 || cfg.Detection.EWMAAlpha >= 1 {
		cfg.Detection.EWMAAlpha = 0.1
	}
	if cfg.Detection.TrendHistory <= 0 {
		cfg.Detection.TrendHistory = 10
	}
	if cfg.Detection.SustainedStreak <= 0 {
		cfg.Detection.SustainedStreak = 3
	}
	if cfg.Alerting.Cooldowns.Info <= 0 {
		cfg.Alerting.Cooldowns.Info = 3600 * time.Second
	}
	if cfg.Alerting.Cooldowns.Warn <= 0 {
		cfg.Alerting.Cooldowns.Warn = 1800 * time.Second
	}
	if cfg.Alerting.Cooldowns.Critical <= 0 {
		cfg.Alerting.Cooldowns.Critical = 300 * time.Second
	}
	if len(cfg.Alerting.Channels) == 0 {
		cfg.Alerting.Channels = DefaultConfig().Alerting.Channels
	}
	if cfg.Alerting.ChannelTimeout <= 0 {
		cfg.Alerting.ChannelTimeout = 10 * time.Second
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.History.PerKeyLimit <= 0 {
		cfg.History.PerKeyLimit = 1000
	}
	if cfg.History.KeyLimit <= 0 {
		cfg.History.KeyLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Alerting.Email.SMTPPort <= 0 {
		cfg.Alerting.Email.SMTPPort = 587
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	for _, win := range cfg.Aggregation.Windows {
		if win <= 0 {
			return fmt.Errorf("aggregation.windows contains non-positive duration: %s", win)
		}
	}
	found := false
	for _, win := range cfg.Aggregation.Windows {
		if win == cfg.Detection.DetectionWindow {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("detection.detection_window %s is not one of aggregation.windows", cfg.Detection.DetectionWindow)
	}
	if cfg.Alerting.DedupWindow < 0 {
		return errors.New("alerting.dedup_window must be >= 0")
	}
	for severity := range cfg.Alerting.Channels {
		switch severity {
		case "INFO", "WARN", "CRITICAL":
		default:
			return fmt.Errorf("alerting.channels contains unknown severity: %s", severity)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file. Used by
// tests and by the default-config startup path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
