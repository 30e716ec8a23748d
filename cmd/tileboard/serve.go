package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/cache"
	"github.com/t77yq/tileboard/internal/composer"
	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/display"
	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/monitor"
	"github.com/t77yq/tileboard/internal/provider"
	"github.com/t77yq/tileboard/internal/scheduler"
	"github.com/t77yq/tileboard/internal/service"
	"github.com/t77yq/tileboard/internal/storage"
)

const (
	natsConnectRetries = 5
	statusInterval     = time.Minute
	cleanupInterval    = 24 * time.Hour
	stopTimeout        = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard",
	Long: `Load the dashboard document, start refreshing every tile and push tile
updates to the log and, when NATS is enabled, to display.<tile> subjects.

Examples:
  # Run with ./config/tileboard.yaml or built-in defaults
  tileboard serve

  # Run against a specific process config
  tileboard serve --config /etc/tileboard/tileboard.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	themes := loadThemes(cfg, logger)
	store := config.NewStore(cfg.DashboardPath, logger)
	dashboard := store.Load()

	httpClient := provider.NewHTTPClient(provider.HTTPConfig{
		Timeout:   cfg.ProviderTimeout,
		CacheTTL:  cfg.HTTPCacheTTL,
		CacheSize: cfg.HTTPCacheSize,
	}, logger)
	defer httpClient.Close()

	deps := provider.Deps{
		HTTP:        httpClient,
		Now:         time.Now,
		Temperature: provider.ReadThermalZone,
		Weather: provider.WeatherConfig{
			Latitude:  cfg.WeatherLatitude,
			Longitude: cfg.WeatherLongitude,
		},
		Finance: provider.FinanceConfig{Symbol: cfg.FinanceSymbol},
		News: provider.NewsConfig{
			APIKey:  cfg.NewsAPIKey,
			Country: cfg.NewsCountry,
		},
		Logger: logger,
	}

	calendar, err := storage.NewSQLiteCalendar(logger, cfg.CalendarPath, time.Now())
	if err != nil {
		logger.Warn("Calendar store unavailable, calendar tiles will be placeholders",
			zap.String("path", cfg.CalendarPath),
			zap.Error(err))
	} else {
		defer calendar.Close()
		deps.Events = calendar
	}

	registry := provider.DefaultRegistry(deps, logger)
	for kind, cadence := range cfg.Cadences {
		registry.SetCadence(kind, cadence)
	}

	tileCache := cache.New(logger)

	schedOpts := []scheduler.Option{
		scheduler.WithCallTimeout(cfg.ProviderTimeout),
		scheduler.WithStopTimeout(stopTimeout),
	}
	if cfg.Backoff.Enabled {
		schedOpts = append(schedOpts, scheduler.WithBackoff(&scheduler.ExponentialBackoff{
			InitialDelay: cfg.Backoff.InitialDelay,
			MaxDelay:     cfg.Backoff.MaxDelay,
			Multiplier:   cfg.Backoff.Multiplier,
		}))
	}
	sched := scheduler.NewRefreshScheduler(tileCache, logger, schedOpts...)

	var history *storage.SQLiteRefreshHistory
	if cfg.HistoryEnabled {
		history, err = storage.NewSQLiteRefreshHistory(logger, cfg.HistoryPath)
		if err != nil {
			logger.Warn("Refresh history disabled", zap.Error(err))
		} else {
			defer history.Close()
			sched.AddObserver(history)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	var nc *nats.Conn
	var js nats.JetStreamContext
	if cfg.NATSEnabled {
		nc, err = connectNATS(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Running without NATS", zap.Error(err))
		} else {
			defer nc.Close()
			js, err = nc.JetStream()
			if err != nil {
				logger.Warn("JetStream unavailable, alerts and metrics stay local", zap.Error(err))
				js = nil
			}
		}
	}

	var alerts *monitor.AlertManager
	if cfg.Alerts.Enabled {
		alerts = monitor.NewAlertManager(logger, js, sched,
			monitor.WithCheckInterval(cfg.Alerts.CheckInterval))
		for _, rule := range monitor.DefaultRules(
			cfg.Alerts.FailureThreshold,
			cfg.Alerts.HungAfter,
			cfg.Alerts.CPUThreshold,
			cfg.Alerts.MemoryThreshold,
		) {
			if err := alerts.AddRule(rule); err != nil {
				logger.Error("Failed to add alert rule", zap.String("rule", rule.Name), zap.Error(err))
			}
		}
		if err := alerts.Start(ctx); err != nil {
			logger.Warn("Alerting disabled", zap.Error(err))
			alerts = nil
		} else {
			defer alerts.Stop()
			sched.AddObserver(alerts)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	layout := composer.New(registry, sched, tileCache, logger,
		composer.WithSlots(cfg.GridSlots),
		composer.WithThemes(themes))
	if err := layout.Rebuild(dashboard); err != nil {
		return fmt.Errorf("failed to build layout: %w", err)
	}

	surfaces := display.Fanout{display.NewLogSurface(logger)}
	if nc != nil {
		surfaces = append(surfaces, display.NewNATSSurface(nc, logger))
	}
	renderer := display.NewRenderer(layout, tileCache, surfaces, logger,
		display.WithInterval(cfg.RenderInterval))
	renderer.Start(ctx)
	defer renderer.Stop()

	if cfg.Watch {
		watcher := config.NewWatcher(store, func(next *model.DashboardConfig) {
			if err := layout.Rebuild(next); err != nil {
				logger.Error("Failed to rebuild layout after config change", zap.Error(err))
			}
		}, cfg.WatchDebounce, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	if nc != nil {
		control := service.NewControlService(nc, store, layout, sched, logger)
		if err := control.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control service: %w", err)
		}
		defer control.Stop()
	}

	var collector *monitor.MetricsCollector
	if cfg.MetricsEnabled {
		sampler, err := monitor.NewHostSampler()
		if err != nil {
			logger.Warn("Performance sampling disabled", zap.Error(err))
		} else {
			collector = monitor.NewMetricsCollector(js, sampler, sched, cfg.MetricsInterval, logger)
			if err := collector.Start(ctx); err != nil {
				logger.Warn("Performance sampling disabled", zap.Error(err))
				collector = nil
			} else {
				defer collector.Stop()
			}
		}
	}

	go maintain(ctx, sched, history, cfg.HistoryRetention, logger)

	logger.Info("Dashboard running",
		zap.String("dashboard", store.Path()),
		zap.Int("slots", layout.Slots()),
		zap.Bool("nats", nc != nil))

	// Wait for shutdown signal
	<-ctx.Done()

	if active := activeAlerts(alerts); active > 0 {
		logger.Info("Shutting down with active alerts", zap.Int("count", active))
	}
	if collector != nil {
		logSummary(logger, collector.Summary())
	}
	logger.Info("Dashboard shutting down gracefully")
	return nil
}

// connectNATS connects with the process options, retrying a few times before
// giving up
func connectNATS(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(cfg.NATSReconnectWait),
		nats.Timeout(cfg.NATSConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < natsConnectRetries; i++ {
		nc, err = nats.Connect(cfg.NATSURL, opts...)
		if err == nil {
			logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", natsConnectRetries, err)
}

// maintain logs task status periodically and drops refresh history past its
// retention once a day
func maintain(ctx context.Context, sched *scheduler.RefreshScheduler, history *storage.SQLiteRefreshHistory, retention time.Duration, logger *zap.Logger) {
	statusTicker := time.NewTicker(statusInterval)
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer statusTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C:
			var running, failing int
			for _, task := range sched.AllStatus() {
				if task.Running {
					running++
				}
				if task.ConsecutiveFailures > 0 {
					failing++
				}
			}
			logger.Info("Current refresh tasks",
				zap.Int("running", running),
				zap.Int("failing", failing),
				zap.Uint64("generation", sched.Generation()))
		case <-cleanupTicker.C:
			if history == nil || retention <= 0 {
				continue
			}
			cutoff := time.Now().Add(-retention)
			deleted, err := history.DeleteBefore(ctx, cutoff)
			if err != nil {
				logger.Error("Failed to cleanup old refresh history", zap.Error(err))
				continue
			}
			logger.Info("Cleaned up refresh history",
				zap.Int64("deleted", deleted),
				zap.Time("cutoff", cutoff))
		}
	}
}

func activeAlerts(alerts *monitor.AlertManager) int {
	if alerts == nil {
		return 0
	}
	return len(alerts.ActiveAlerts())
}

func logSummary(logger *zap.Logger, summary model.PerformanceSummary) {
	if summary.Samples == 0 {
		return
	}
	logger.Info("Performance summary",
		zap.Int("samples", summary.Samples),
		zap.Duration("duration", summary.Duration),
		zap.Float64("avg_cpu_total", summary.AvgCPUTotal),
		zap.Float64("avg_cpu_process", summary.AvgCPUProcess),
		zap.Float64("peak_cpu_total", summary.PeakCPUTotal),
		zap.Float64("avg_mem_total", summary.AvgMemTotal),
		zap.Float64("peak_mem_total", summary.PeakMemTotal),
		zap.Strings("recommendations", summary.Recommendations))
}
