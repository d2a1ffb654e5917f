package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all Weather Alert Guardian configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Push     PushConfig     `mapstructure:"push"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LimiterConfig defines the weather API request budget.
type LimiterConfig struct {
	PerSecond int           `mapstructure:"per_second"`
	PerHour   int           `mapstructure:"per_hour"`
	PerDay    int           `mapstructure:"per_day"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

// CooldownConfig defines notification suppression.
type CooldownConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Retention time.Duration `mapstructure:"retention"`
}

// ClusterConfig defines location grouping.
type ClusterConfig struct {
	Precision int `mapstructure:"precision"`
}

// DispatchConfig defines the alert cycle.
type DispatchConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	Pace          bool          `mapstructure:"pace"`
}

// WeatherConfig defines the Open-Meteo endpoints.
type WeatherConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	AirQualityURL string `mapstructure:"air_quality_url"`
}

// PushConfig defines the push gateway.
type PushConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	Secret     string `mapstructure:"secret"`
	RatePerSec int    `mapstructure:"rate_per_sec"`
	Workers    int    `mapstructure:"workers"`
	Templates  string `mapstructure:"templates"`
}

// OpsConfig defines operator alerting integrations.
type OpsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// EventsConfig defines cycle summary publishing. An empty URL disables it.
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".wag"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".wag", "wag.db"))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("limiter.per_second", 3)
	v.SetDefault("limiter.per_hour", 25)
	v.SetDefault("limiter.per_day", 500)
	v.SetDefault("limiter.max_wait", "5s")
	v.SetDefault("cooldown.window", "1h")
	v.SetDefault("cooldown.retention", "2h")
	v.SetDefault("cluster.precision", 2)
	v.SetDefault("dispatch.schedule", "@every 10m")
	v.SetDefault("dispatch.sweep_schedule", "@every 30m")
	v.SetDefault("dispatch.cycle_timeout", "8m")
	v.SetDefault("dispatch.fetch_timeout", "15s")
	v.SetDefault("dispatch.send_timeout", "30s")
	v.SetDefault("dispatch.pace", true)
	v.SetDefault("weather.base_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.air_quality_url", "https://air-quality-api.open-meteo.com/v1/air-quality")
	v.SetDefault("push.gateway_url", "")
	v.SetDefault("push.secret", "")
	v.SetDefault("push.rate_per_sec", 20)
	v.SetDefault("push.workers", 4)
	v.SetDefault("push.templates", "")
	v.SetDefault("ops.slack.channel", "#weather-alerts")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", "wag.cycles")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("WAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Limiter.PerSecond <= 0 || c.Limiter.PerHour <= 0 || c.Limiter.PerDay <= 0 {
		return fmt.Errorf("limiter caps must be positive")
	}
	if c.Cooldown.Window <= 0 {
		return fmt.Errorf("cooldown.window must be positive")
	}
	if c.Cluster.Precision < 0 || c.Cluster.Precision > 6 {
		return fmt.Errorf("cluster.precision must be between 0 and 6, got %d", c.Cluster.Precision)
	}
	return nil
}
