package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Experiments ExperimentConfig  `koanf:"experiments"`
	Monitoring  MonitoringConfig  `koanf:"monitoring"`
	Automation  AutomationConfig  `koanf:"automation"`
	Alerting    AlertingConfig    `koanf:"alerting"`
	Flags       FlagServiceConfig `koanf:"flags"`
	Funnel      FunnelConfig      `koanf:"funnel"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

type ExperimentConfig struct {
	// ResultsCacheTTL is the freshness window for cached experiment results.
	ResultsCacheTTL     time.Duration `koanf:"results_cache_ttl"`
	ExperimentCacheSize int           `koanf:"experiment_cache_size"`
}

type MonitoringConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	// StaleAfterDays is the runtime after which an incomplete sample is
	// flagged as low_sample_size.
	StaleAfterDays int `koanf:"stale_after_days"`
	// BaselineRevenuePerConversion prices a conversion for growth reports.
	BaselineRevenuePerConversion float64 `koanf:"baseline_revenue_per_conversion"`
}

type AutomationConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`

	AutoStopOnSignificance   bool    `koanf:"auto_stop_on_significance"`
	AutoStopConfidence       float64 `koanf:"auto_stop_confidence"`
	AutoImplementWinner      bool    `koanf:"auto_implement_winner"`
	DurationMultiplier       float64 `koanf:"duration_multiplier"`
	SampleSizeMultiplier     float64 `koanf:"sample_size_multiplier"`
	PerformanceDropPercent   float64 `koanf:"performance_drop_percent"`
	MaxConcurrentExperiments int     `koanf:"max_concurrent_experiments"`
}

type AlertingConfig struct {
	SlackWebhookURL string        `koanf:"slack_webhook_url"`
	WebhookURL      string        `koanf:"webhook_url"`
	WebhookSecret   string        `koanf:"webhook_secret"`
	SMTPAddr        string        `koanf:"smtp_addr"`
	SMTPFrom        string        `koanf:"smtp_from"`
	EmailRecipients []string      `koanf:"email_recipients"`
	SMSGatewayURL   string        `koanf:"sms_gateway_url"`
	SMSNumbers      []string      `koanf:"sms_numbers"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
	// DispatchRate caps notifications per second per channel.
	DispatchRate  float64 `koanf:"dispatch_rate"`
	DispatchBurst int     `koanf:"dispatch_burst"`
}

type FlagServiceConfig struct {
	BaseURL string        `koanf:"base_url"`
	Secret  string        `koanf:"secret"`
	Timeout time.Duration `koanf:"timeout"`
}

type FunnelConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	QueueSize int           `koanf:"queue_size"`
}

// Load builds the config from defaults, an optional YAML file, and DFX_
// environment overrides, in that order of precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
		},
		Experiments: ExperimentConfig{
			ResultsCacheTTL:     time.Hour,
			ExperimentCacheSize: 512,
		},
		Monitoring: MonitoringConfig{
			PollInterval:                 5 * time.Minute,
			StaleAfterDays:               7,
			BaselineRevenuePerConversion: 25,
		},
		Automation: AutomationConfig{
			PollInterval:             5 * time.Minute,
			AutoStopOnSignificance:   true,
			AutoStopConfidence:       0.95,
			DurationMultiplier:       1.5,
			SampleSizeMultiplier:     1.0,
			PerformanceDropPercent:   30,
			MaxConcurrentExperiments: 5,
		},
		Alerting: AlertingConfig{
			DispatchTimeout: 10 * time.Second,
			DispatchRate:    5,
			DispatchBurst:   10,
		},
		Flags: FlagServiceConfig{
			Timeout: 5 * time.Second,
		},
		Funnel: FunnelConfig{
			Timeout:   5 * time.Second,
			QueueSize: 1024,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// Config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("DFX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DFX_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
