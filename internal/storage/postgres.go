package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"driftwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/driftwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			explanation TEXT NOT NULL,
			signals_json JSONB NOT NULL,
			signal_types_json JSONB NOT NULL,
			drift_json JSONB NOT NULL,
			insights_json JSONB NOT NULL,
			recommendations_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_endpoint ON alerts(endpoint)`,
		`CREATE TABLE IF NOT EXISTS windows (
			id BIGSERIAL PRIMARY KEY,
			endpoint TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			avg_latency DOUBLE PRECISION NOT NULL,
			p50_latency DOUBLE PRECISION NOT NULL,
			p95_latency DOUBLE PRECISION NOT NULL,
			p99_latency DOUBLE PRECISION NOT NULL,
			error_rate DOUBLE PRECISION NOT NULL,
			request_volume INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_windows_endpoint ON windows(endpoint, window_sec)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, endpoint, severity, status, window_start, window_end, created_at,
			explanation, signals_json, signal_types_json, drift_json, insights_json, recommendations_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		alert.ID,
		alert.Endpoint,
		string(alert.Severity),
		string(alert.Status),
		alert.WindowStart.UTC(),
		alert.WindowEnd.UTC(),
		alert.CreatedAt.UTC(),
		alert.Explanation,
		encodeJSON(alert.Signals),
		encodeJSON(alert.SignalTypes),
		encodeJSON(alert.DriftContext),
		encodeJSON(alert.Insights),
		encodeJSON(alert.Recommendations),
	)
	return err
}

func (s *postgresStore) SaveWindows(ctx context.Context, windows []model.AggregateWindow) error {
	if s.db == nil || len(windows) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO windows (endpoint, window_sec, window_end, avg_latency, p50_latency, p95_latency, p99_latency, error_rate, request_volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, w := range windows {
		if _, err := stmt.ExecContext(ctx,
			w.Endpoint,
			w.WindowSec,
			w.WindowEnd.UTC(),
			w.AvgLatency,
			w.P50Latency,
			w.P95Latency,
			w.P99Latency,
			w.ErrorRate,
			w.RequestVolume,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, severity, status, window_start, window_end, created_at,
			explanation, signals_json, signal_types_json, drift_json, insights_json, recommendations_json
		FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			id, endpoint, severity, status                     string
			windowStart, windowEnd, createdAt                  time.Time
			explanation, signals, types, drift, insights, recs string
		)
		if err := rows.Scan(&id, &endpoint, &severity, &status, &windowStart, &windowEnd, &createdAt,
			&explanation, &signals, &types, &drift, &insights, &recs); err != nil {
			return nil, err
		}
		out = append(out, decodeAlertRow(id, endpoint, severity, status, windowStart, windowEnd, createdAt,
			explanation, signals, types, drift, insights, recs))
	}
	return out, rows.Err()
}
