package alerting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/model"
	"driftwatch/internal/telemetry"
)

// Channel delivers one alert to one destination. Implementations own their
// timeouts; sends are at-most-once and never retried.
type Channel interface {
	Name() string
	Send(alert model.Alert) error
}

// AlertStore persists accepted alerts and assigns their IDs.
type AlertStore interface {
	Store(alert model.Alert) (string, error)
}

// Config carries the suppression and routing policy.
type Config struct {
	DedupWindow time.Duration
	Cooldowns   map[model.AlertSeverity]time.Duration
	Routes      map[model.AlertSeverity][]string
}

func DefaultPolicy() Config {
	return Config{
		DedupWindow: 600 * time.Second,
		Cooldowns: map[model.AlertSeverity]time.Duration{
			model.SeverityInfo:     3600 * time.Second,
			model.SeverityWarn:     1800 * time.Second,
			model.SeverityCritical: 300 * time.Second,
		},
		Routes: map[model.AlertSeverity][]string{
			model.SeverityInfo:     {"console"},
			model.SeverityWarn:     {"console", "slack"},
			model.SeverityCritical: {"console", "slack", "email"},
		},
	}
}

// Manager is the alert lifecycle stage: severity backstop, deduplication,
// per-severity cooldown, persistence and multi-channel routing. The
// suppression map is guarded by one mutex; persistence and channel dispatch
// happen after it is released.
type Manager struct {
	cfg      Config
	store    AlertStore
	channels map[string]Channel
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	now func() time.Time
}

func NewManager(cfg Config, store AlertStore, channels []Channel, logger *slog.Logger) *Manager {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		if ch != nil {
			byName[ch.Name()] = ch
		}
	}
	if cfg.Cooldowns == nil {
		cfg.Cooldowns = DefaultPolicy().Cooldowns
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultPolicy().Routes
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		channels: byName,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Process runs one candidate through the suppression pipeline. It returns
// true iff the console channel accepted the resulting alert; slack and email
// failures are logged and tolerated.
func (m *Manager) Process(c model.AlertCandidate) bool {
	severity := m.severityFor(c)
	key := c.Endpoint + "|" + string(severity)
	now := m.now().UTC()

	if reason, ok := m.admit(key, severity, now); !ok {
		telemetry.AlertSuppressed(reason)
		if m.logger != nil {
			m.logger.Info("alert suppressed", "endpoint", c.Endpoint, "severity", severity, "reason", reason)
		}
		return false
	}

	alert := model.Alert{
		Endpoint:        c.Endpoint,
		Severity:        severity,
		Signals:         c.Signals,
		SignalTypes:     c.SignalTypes,
		WindowStart:     c.WindowStart,
		WindowEnd:       c.WindowEnd,
		DriftContext:    c.DriftContext,
		Explanation:     c.Explanation,
		Insights:        c.Insights,
		Recommendations: c.Recommendations,
		CreatedAt:       now,
		Status:          model.StatusActive,
	}

	// Persistence is best-effort relative to notification.
	if m.store != nil {
		id, err := m.store.Store(alert)
		if err != nil {
			if m.logger != nil {
				m.logger.Error("alert store write failed", "endpoint", c.Endpoint, "err", err)
			}
		} else {
			alert.ID = id
		}
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	sent := m.route(alert)
	if sent {
		telemetry.AlertSent(string(alert.Severity))
	}
	if m.logger != nil {
		m.logger.Info("alert processed",
			"id", alert.ID,
			"endpoint", alert.Endpoint,
			"severity", alert.Severity,
			"signals", len(alert.Signals),
			"sent", sent,
		)
	}
	return sent
}

// severityFor maps the correlator's anomaly-scale severity onto the alert
// scale; candidates that arrive without one fall back to the signal
// heuristic.
func (m *Manager) severityFor(c model.AlertCandidate) model.AlertSeverity {
	switch c.Severity {
	case model.AnomalyHigh:
		return model.SeverityCritical
	case model.AnomalyMedium:
		return model.SeverityWarn
	case model.AnomalyLow:
		return model.SeverityInfo
	}
	return ClassifySeverity(c.Signals)
}

// admit atomically applies the dedup window then the per-severity cooldown
// against the shared last-sent map and claims the slot on success. Dropped
// candidates never advance the map.
func (m *Manager) admit(key string, severity model.AlertSeverity, now time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok {
		if m.cfg.DedupWindow > 0 && now.Sub(last) < m.cfg.DedupWindow {
			return "dedup", false
		}
		if cooldown := m.cfg.Cooldowns[severity]; cooldown > 0 && now.Sub(last) < cooldown {
			return "cooldown", false
		}
	}
	m.lastSent[key] = now
	return "", true
}

func (m *Manager) route(alert model.Alert) bool {
	names := m.cfg.Routes[alert.Severity]
	if len(names) == 0 {
		names = []string{"console"}
	}
	sent := false
	for _, name := range names {
		ch, ok := m.channels[name]
		if !ok {
			continue
		}
		err := ch.Send(alert)
		if name == "console" {
			sent = err == nil
		}
		if err != nil && m.logger != nil {
			m.logger.Warn("channel send failed", "channel", name, "alert_id", alert.ID, "err", err)
		}
	}
	return sent
}

// ClearSuppression forgets all dedup/cooldown state.
func (m *Manager) ClearSuppression() {
	m.mu.Lock()
	m.lastSent = make(map[string]time.Time)
	m.mu.Unlock()
}
