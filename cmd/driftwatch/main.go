package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"driftwatch/internal/aggregator"
	"driftwatch/internal/alerting"
	"driftwatch/internal/alerts"
	"driftwatch/internal/api"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/detector"
	"driftwatch/internal/history"
	"driftwatch/internal/ingest"
	"driftwatch/internal/logging"
	"driftwatch/internal/model"
	"driftwatch/internal/runner"
	"driftwatch/internal/storage"
	"driftwatch/internal/telemetry"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to configuration file (yaml or json)")
	flag.Parse()

	var cfgManager *config.Manager
	if configPath != "" {
		m, err := config.NewManager(config.ResolvePath(configPath))
		if err != nil {
			slog.Error("failed to load config", "path", configPath, "err", err)
			os.Exit(1)
		}
		cfgManager = m
	} else {
		cfgManager = config.NewStaticManager(nil)
	}
	cfg := cfgManager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting driftwatch", "version", version, "config", cfgManager.Path())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := telemetry.Register(registry); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			logger.Error("failed to init storage", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("durable storage enabled", "driver", cfg.Storage.Driver)
	}

	agg := aggregator.New(cfg.Aggregation.Windows, logger)
	baselines := baseline.NewTracker(cfg.Detection.EWMAAlpha)
	hist := history.NewStore(cfg.History.PerKeyLimit, cfg.History.KeyLimit)
	det := detector.New(detector.Config{
		MinBaselineCount:  cfg.Detection.MinBaselineCount,
		ZRollingThreshold: cfg.Detection.ZRollingThreshold,
		ZEWMAThreshold:    cfg.Detection.ZEWMAThreshold,
		TrendHistory:      cfg.Detection.TrendHistory,
		SustainedStreak:   cfg.Detection.SustainedStreak,
	}, baselines, hist, logger)

	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	if store != nil {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		reloadAlerts(loadCtx, store, alertStore, cfg.Alerts.StoreLimit, logger)
		cancel()
	}
	channels := buildChannels(cfg.Alerting)
	manager := alerting.NewManager(alertPolicy(cfg.Alerting), &durableAlertStore{mem: alertStore, db: store, logger: logger}, channels, logger)

	records := make(chan model.LogRecord, cfg.Ingest.ChannelBuffer)
	run := runner.New(cfgManager, agg, det, baselines, hist, alerting.NewTemplateExplainer(), manager, store, records, logger)

	ingest.StartREST(ctx, cfgManager, records, logger)
	ingest.StartFileTail(ctx, cfgManager, records, logger)
	ingest.StartKafka(ctx, cfgManager, records, logger)

	api.Start(ctx, cfgManager, agg, hist, alertStore, manager, run, registry, logger, version)

	if cfgManager.Path() != "" {
		go cfgManager.Watch(3*time.Second,
			func(next *config.Config) { logger.Info("config reloaded", "path", cfgManager.Path()) },
			func(err error) { logger.Warn("config reload failed", "err", err) },
			ctx.Done(),
		)
	}

	run.Run(ctx)
	logger.Info("driftwatch stopped")
}

func buildChannels(cfg config.AlertingConfig) []alerting.Channel {
	timeout := cfg.ChannelTimeout
	return []alerting.Channel{
		alerting.NewConsoleChannel(os.Stdout),
		alerting.NewSlackChannel(cfg.Slack.WebhookURL, timeout),
		alerting.NewEmailChannel(alerting.EmailConfig{
			Server:   cfg.Email.SMTPServer,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}, timeout),
	}
}

func alertPolicy(cfg config.AlertingConfig) alerting.Config {
	routes := make(map[model.AlertSeverity][]string, len(cfg.Channels))
	for severity, names := range cfg.Channels {
		routes[model.AlertSeverity(severity)] = names
	}
	return alerting.Config{
		DedupWindow: cfg.DedupWindow,
		Cooldowns: map[model.AlertSeverity]time.Duration{
			model.SeverityInfo:     cfg.Cooldowns.Info,
			model.SeverityWarn:     cfg.Cooldowns.Warn,
			model.SeverityCritical: cfg.Cooldowns.Critical,
		},
		Routes: routes,
	}
}

// reloadAlerts warms the in-memory alert store from durable storage so alert
// history survives restarts. RecentAlerts returns newest first; the ring
// wants oldest first.
func reloadAlerts(ctx context.Context, db storage.Store, mem *alerts.Store, limit int, logger *slog.Logger) {
	recent, err := db.RecentAlerts(ctx, limit)
	if err != nil {
		logger.Warn("failed to reload alerts from storage", "err", err)
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if _, err := mem.Store(recent[i]); err != nil {
			logger.Warn("failed to restore alert", "id", recent[i].ID, "err", err)
		}
	}
	if len(recent) > 0 {
		logger.Info("restored alerts from storage", "count", len(recent))
	}
}

// durableAlertStore keeps the in-memory ring authoritative and mirrors
// accepted alerts into durable storage best-effort.
type durableAlertStore struct {
	mem    *alerts.Store
	db     storage.Store
	logger *slog.Logger
}

func (d *durableAlertStore) Store(alert model.Alert) (string, error) {
	id, err := d.mem.Store(alert)
	if err != nil {
		return "", err
	}
	if d.db != nil {
		alert.ID = id
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.db.SaveAlert(ctx, alert); err != nil && d.logger != nil {
			d.logger.Warn("durable alert write failed", "id", id, "err", err)
		}
	}
	return id, nil
}
