package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/internal/config"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cluster"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/cooldown"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/dispatch"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/events"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/notify"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/push"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/ratelimit"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/storage"
	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/weather"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "wag",
	Short: "Weather Alert Guardian - location-clustered weather push alerts",
	Long: `Weather Alert Guardian groups users by rounded location, fetches current and
forecast conditions within the weather API's request budget, and pushes alerts
to registered devices with per-recipient cooldown.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.wag/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgres(cfg.Storage.DSN)
	default:
		return storage.NewSQLite(cfg.Storage.Path)
	}
}

// initNotifiers creates ops notifiers from config.
func initNotifiers(cfg *config.Config) []notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.Ops.Slack.Enabled && cfg.Ops.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			cfg.Ops.Slack.WebhookURL,
			cfg.Ops.Slack.Channel,
		))
	}

	if cfg.Ops.Webhook.Enabled && cfg.Ops.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(
			cfg.Ops.Webhook.URL,
			cfg.Ops.Webhook.Secret,
		))
	}

	return notifiers
}

func initCooldowns(cfg *config.Config, store storage.Storage, logger *slog.Logger) *cooldown.Store {
	return cooldown.New(store, logger,
		cooldown.WithWindow(cfg.Cooldown.Window),
		cooldown.WithRetention(cfg.Cooldown.Retention),
	)
}

func initTemplates(cfg *config.Config) (*push.Templates, error) {
	if cfg.Push.Templates == "" {
		return push.DefaultTemplates(), nil
	}
	return push.LoadTemplates(cfg.Push.Templates)
}

// app is the fully wired dispatch graph.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Storage
	limiter    *ratelimit.Limiter
	cooldowns  *cooldown.Store
	dispatcher *dispatch.Dispatcher
	publisher  *events.Publisher
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.store.Close()
}

// initApp wires storage, limiter, clusterer, cooldown, weather provider, push
// gateway, ops notifiers and the optional event publisher into a dispatcher.
func initApp(cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	limits := ratelimit.Limits{
		PerSecond: cfg.Limiter.PerSecond,
		PerHour:   cfg.Limiter.PerHour,
		PerDay:    cfg.Limiter.PerDay,
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	templates, err := initTemplates(cfg)
	if err != nil {
		return nil, err
	}

	gateway, err := push.NewGateway(push.GatewayConfig{
		URL:        cfg.Push.GatewayURL,
		Secret:     cfg.Push.Secret,
		RatePerSec: cfg.Push.RatePerSec,
		Workers:    cfg.Push.Workers,
		Timeout:    cfg.Dispatch.SendTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init push gateway: %w", err)
	}

	store, err := initStorage(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		limiter:   ratelimit.New(limits, logger),
		cooldowns: initCooldowns(cfg, store, logger),
	}

	deps := dispatch.Deps{
		Locator:   cluster.New(store, cfg.Cluster.Precision),
		Limiter:   a.limiter,
		Provider:  weather.NewOpenMeteo(cfg.Weather.BaseURL, cfg.Weather.AirQualityURL, cfg.Dispatch.FetchTimeout, logger),
		Cooldowns: a.cooldowns,
		Registry:  store,
		Transport: gateway,
		Renderer:  templates,
		Notifiers: initNotifiers(cfg),
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.New(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			// Summaries still reach the logs; publishing is optional.
			logger.Warn("cycle events disabled", "error", err)
		} else {
			a.publisher = pub
			deps.Publisher = pub
		}
	}

	a.dispatcher = dispatch.New(deps, dispatch.Config{
		MaxWait:      cfg.Limiter.MaxWait,
		FetchTimeout: cfg.Dispatch.FetchTimeout,
		SendTimeout:  cfg.Dispatch.SendTimeout,
		Pace:         cfg.Dispatch.Pace,
	}, logger)

	return a, nil
}
