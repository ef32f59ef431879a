package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"driftwatch/internal/config"
	"driftwatch/internal/model"
)

// Store persists alerts and aggregate windows. Implementations are
// best-effort from the pipeline's point of view; write failures are logged
// by callers, never fatal.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveWindows(ctx context.Context, windows []model.AggregateWindow) error
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeAlertRow(id, endpoint, severity, status string, windowStart, windowEnd, createdAt time.Time, explanation, signalsJSON, typesJSON, driftJSON, insightsJSON, recsJSON string) model.Alert {
	alert := model.Alert{
		ID:          id,
		Endpoint:    endpoint,
		Severity:    model.AlertSeverity(severity),
		Status:      model.AlertStatus(status),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		CreatedAt:   createdAt,
		Explanation: explanation,
	}
	_ = json.Unmarshal([]byte(signalsJSON), &alert.Signals)
	_ = json.Unmarshal([]byte(typesJSON), &alert.SignalTypes)
	_ = json.Unmarshal([]byte(driftJSON), &alert.DriftContext)
	_ = json.Unmarshal([]byte(insightsJSON), &alert.Insights)
	_ = json.Unmarshal([]byte(recsJSON), &alert.Recommendations)
	return alert
}
