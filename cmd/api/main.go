package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/api/rest"
	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/infrastructure/analytics"
	"github.com/draftforge/experiment-platform/internal/infrastructure/cache"
	"github.com/draftforge/experiment-platform/internal/infrastructure/config"
	"github.com/draftforge/experiment-platform/internal/infrastructure/database"
	"github.com/draftforge/experiment-platform/internal/infrastructure/flags"
	"github.com/draftforge/experiment-platform/internal/infrastructure/notify"
	"github.com/draftforge/experiment-platform/internal/infrastructure/repository"
	"github.com/draftforge/experiment-platform/internal/infrastructure/scheduler"
	"github.com/draftforge/experiment-platform/internal/infrastructure/telemetry"
	alertingsvc "github.com/draftforge/experiment-platform/internal/service/alerting"
	automationsvc "github.com/draftforge/experiment-platform/internal/service/automation"
	enginesvc "github.com/draftforge/experiment-platform/internal/service/experiment"
	"github.com/draftforge/experiment-platform/internal/service/integration"
	monitoringsvc "github.com/draftforge/experiment-platform/internal/service/monitoring"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tracing, err := telemetry.Init(ctx, &telemetry.Config{
		ServiceName:    "draftforge-experiments",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Storage
	experiments := repository.NewExperimentRepository(pool)
	events := repository.NewEventRepository(pool)
	alerts := repository.NewAlertRepository(pool)
	automationRepo := repository.NewAutomationRepository(pool)

	experimentCache, err := cache.NewExperimentCache(experiments, cfg.Experiments.ExperimentCacheSize)
	if err != nil {
		return err
	}
	resultsCache := cache.NewResultsCache(experiments, redisClient, cfg.Experiments.ResultsCacheTTL, logger)

	// Outbound integrations
	flagClient := flags.NewClient(&cfg.Flags, logger)
	funnel := analytics.NewFunnelTracker(&cfg.Funnel, logger)
	defer funnel.Close()

	// Services
	engine := enginesvc.NewService(experimentCache, events, resultsCache, flagClient, funnel,
		cfg.Experiments.ResultsCacheTTL, logger)

	alerting := alertingsvc.NewService(alerts, cfg.Alerting.DispatchTimeout,
		cfg.Alerting.DispatchRate, cfg.Alerting.DispatchBurst, logger)
	browser := registerChannels(alerting, &cfg.Alerting, logger)
	alerting.AddRule(defaultAlertRule(&cfg.Alerting))

	automation := automationsvc.NewService(engine, experimentCache, automationRepo, alerts, alerting, logger)

	monitoring := monitoringsvc.NewService(experimentCache, engine, alerts, alerting, automation,
		cfg.Monitoring.StaleAfterDays, cfg.Monitoring.BaselineRevenuePerConversion, logger)

	bridge := integration.NewService(engine, events, flagClient, logger)

	// Background loops
	monitorLoop := scheduler.New("monitoring", cfg.Monitoring.PollInterval, monitoring.CheckAllExperiments, logger)
	automationLoop := scheduler.New("automation", cfg.Automation.PollInterval, automation.RunCycle, logger)
	metricsLoop := scheduler.New("metrics", time.Minute, experimentGaugeJob(engine), logger)
	monitorLoop.Start(ctx)
	automationLoop.Start(ctx)
	metricsLoop.Start(ctx)
	defer monitorLoop.Stop()
	defer automationLoop.Stop()
	defer metricsLoop.Stop()

	// HTTP surface
	handler := rest.NewHandler(rest.Services{
		Engine:      engine,
		Monitoring:  monitoring,
		Automation:  automation,
		Alerting:    alerting,
		Integration: bridge,
	}, logger)

	checkers := []rest.HealthChecker{
		rest.CheckerFunc{CheckerName: "postgres", Fn: pool.Ping},
		rest.CheckerFunc{CheckerName: "redis", Fn: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	}

	server := rest.NewServer(&cfg.Server, handler, checkers, logger, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /api/v1/alerts/stream", browser.HandleWS)
	})
	defer browser.Close()

	logger.Info("starting experiment platform",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	return server.Run(ctx)
}

// registerChannels wires every transport that has configuration, plus the
// browser WebSocket channel which is always available.
func registerChannels(alerting alertingsvc.Service, cfg *config.AlertingConfig, logger *zap.Logger) *notify.BrowserChannel {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	if cfg.SlackWebhookURL != "" {
		alerting.RegisterChannel(notify.NewSlackChannel(cfg.SlackWebhookURL, httpClient, logger))
	}
	if cfg.WebhookURL != "" {
		alerting.RegisterChannel(notify.NewWebhookChannel(cfg.WebhookURL, cfg.WebhookSecret, httpClient, logger))
	}
	if cfg.SMTPAddr != "" && len(cfg.EmailRecipients) > 0 {
		alerting.RegisterChannel(notify.NewEmailChannel(cfg.SMTPAddr, cfg.SMTPFrom, cfg.EmailRecipients, logger))
	}
	if cfg.SMSGatewayURL != "" && len(cfg.SMSNumbers) > 0 {
		alerting.RegisterChannel(notify.NewSMSChannel(cfg.SMSGatewayURL, cfg.SMSNumbers, httpClient, logger))
	}

	browser := notify.NewBrowserChannel(logger)
	alerting.RegisterChannel(browser)
	return browser
}

// defaultAlertRule routes every alert to every configured transport. Teams
// install narrower rules through the alerting service as they onboard.
func defaultAlertRule(cfg *config.AlertingConfig) *alert.Rule {
	channels := []alert.ChannelType{alert.ChannelBrowser}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.ChannelSlack)
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.ChannelWebhook)
	}
	if cfg.SMTPAddr != "" && len(cfg.EmailRecipients) > 0 {
		channels = append(channels, alert.ChannelEmail)
	}
	if cfg.SMSGatewayURL != "" && len(cfg.SMSNumbers) > 0 {
		channels = append(channels, alert.ChannelSMS)
	}

	return &alert.Rule{
		Name:        "default-routing",
		MinPriority: alert.PriorityLow,
		Channels:    channels,
		Cooldown:    time.Minute,
		Enabled:     true,
	}
}
