package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driftwatch/internal/aggregator"
	"driftwatch/internal/alerting"
	"driftwatch/internal/alerts"
	"driftwatch/internal/config"
	"driftwatch/internal/history"
	"driftwatch/internal/model"
)

// PipelineControl lets the admin endpoints reset detection state.
type PipelineControl interface {
	Reset()
}

type Server struct {
	cfg      *config.Manager
	agg      *aggregator.Aggregator
	hist     *history.Store
	alerts   *alerts.Store
	manager  *alerting.Manager
	pipeline PipelineControl
	registry *prometheus.Registry
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Endpoints  int             `json:"endpoints"`
	Alerts     int             `json:"alerts"`
	Dropped    int64           `json:"dropped_records"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	Windows         []string `json:"windows"`
	DetectionWindow string   `json:"detection_window"`
	Interval        string   `json:"interval"`
}

func Start(ctx context.Context, cfg *config.Manager, agg *aggregator.Aggregator, hist *history.Store, alertsStore *alerts.Store, manager *alerting.Manager, pipeline PipelineControl, registry *prometheus.Registry, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		agg:      agg,
		hist:     hist,
		alerts:   alertsStore,
		manager:  manager,
		pipeline: pipeline,
		registry: registry,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/endpoints", server.handleEndpoints)
	mux.HandleFunc("/endpoints/", server.handleEndpoint)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/alerts/", server.handleAlertStatus)
	mux.HandleFunc("/admin/clear", server.handleClear)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	windows := make([]string, 0, len(cfg.Aggregation.Windows))
	for _, d := range cfg.Aggregation.Windows {
		windows = append(windows, d.String())
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: detectionStatus{
			Windows:         windows,
			DetectionWindow: cfg.Detection.DetectionWindow.String(),
			Interval:        cfg.Detection.Interval.String(),
		},
	}
	if s.agg != nil {
		resp.Endpoints = len(s.agg.Endpoints())
		resp.Dropped = s.agg.Dropped()
	}
	if s.alerts != nil {
		resp.Alerts = s.alerts.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.agg.Endpoints()
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": list,
		"count":     len(list),
	})
}

// handleEndpoint serves the live aggregates and recent history for one
// endpoint. Endpoint paths contain slashes, so everything after the prefix
// is the name.
func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	endpoint := strings.TrimPrefix(r.URL.Path, "/endpoints/")
	if endpoint == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	current := s.agg.SnapshotEndpoint(endpoint, time.Now().UTC())
	if len(current) == 0 && len(s.hist.Latest(endpoint)) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	windowSec := 0
	if v := r.URL.Query().Get("window_sec"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			windowSec = n
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var recent []model.AggregateWindow
	if windowSec > 0 {
		recent = s.hist.Recent(endpoint, windowSec, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": endpoint,
		"current":  current,
		"history":  recent,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	status := model.AlertStatus(r.URL.Query().Get("status"))
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit, status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// handleAlertStatus serves POST /alerts/{id}/status for lifecycle updates.
func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/alerts/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "status" || id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Status model.AlertStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.alerts.UpdateStatus(id, req.Status); err != nil {
		if strings.Contains(err.Error(), "invalid") {
			w.WriteHeader(http.StatusBadRequest)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}
	alert, _ := s.alerts.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "alert": alert})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.pipeline != nil {
			s.pipeline.Reset()
		}
		if s.agg != nil {
			s.agg.Reset()
		}
		if s.hist != nil {
			s.hist.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
		if s.manager != nil {
			s.manager.ClearSuppression()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
		if s.manager != nil {
			s.manager.ClearSuppression()
		}
	case "windows", "history":
		if s.agg != nil {
			s.agg.Reset()
		}
		if s.hist != nil {
			s.hist.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
