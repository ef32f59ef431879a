package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"driftwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:driftwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			created_at TEXT NOT NULL,
			explanation TEXT NOT NULL,
			signals_json TEXT NOT NULL,
			signal_types_json TEXT NOT NULL,
			drift_json TEXT NOT NULL,
			insights_json TEXT NOT NULL,
			recommendations_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_endpoint ON alerts(endpoint)`,
		`CREATE TABLE IF NOT EXISTS windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			endpoint TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			window_end TEXT NOT NULL,
			avg_latency REAL NOT NULL,
			p50_latency REAL NOT NULL,
			p95_latency REAL NOT NULL,
			p99_latency REAL NOT NULL,
			error_rate REAL NOT NULL,
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

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (id, endpoint, severity, status, window_start, window_end, created_at,
			explanation, signals_json, signal_types_json, drift_json, insights_json, recommendations_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Endpoint,
		string(alert.Severity),
		string(alert.Status),
		alert.WindowStart.UTC().Format(time.RFC3339Nano),
		alert.WindowEnd.UTC().Format(time.RFC3339Nano),
		alert.CreatedAt.UTC().Format(time.RFC3339Nano),
		alert.Explanation,
		encodeJSON(alert.Signals),
		encodeJSON(alert.SignalTypes),
		encodeJSON(alert.DriftContext),
		encodeJSON(alert.Insights),
		encodeJSON(alert.Recommendations),
	)
	return err
}

func (s *sqliteStore) SaveWindows(ctx context.Context, windows []model.AggregateWindow) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, w := range windows {
		if _, err := stmt.ExecContext(ctx,
			w.Endpoint,
			w.WindowSec,
			w.WindowEnd.UTC().Format(time.RFC3339Nano),
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

func (s *sqliteStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, severity, status, window_start, window_end, created_at,
			explanation, signals_json, signal_types_json, drift_json, insights_json, recommendations_json
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			id, endpoint, severity, status                     string
			windowStart, windowEnd, createdAt                  string
			explanation, signals, types, drift, insights, recs string
		)
		if err := rows.Scan(&id, &endpoint, &severity, &status, &windowStart, &windowEnd, &createdAt,
			&explanation, &signals, &types, &drift, &insights, &recs); err != nil {
			return nil, err
		}
		ws, _ := time.Parse(time.RFC3339Nano, windowStart)
		we, _ := time.Parse(time.RFC3339Nano, windowEnd)
		ca, _ := time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, decodeAlertRow(id, endpoint, severity, status, ws, we, ca,
			explanation, signals, types, drift, insights, recs))
	}
	return out, rows.Err()
}
