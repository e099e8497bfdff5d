// Gray Logic Cloudlink - cloud service bindings for Gray Logic
//
// Cloudlink polls rate-limited cloud APIs (Met Office DataHub site-specific
// forecasts) and subscribes to local NVR event streams (UniFi Protect), then
// relays the results onto the Gray Logic MQTT bus, InfluxDB and a small
// local HTTP API. Each provider has a persistent daily request budget that
// survives restarts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-cloudlink/internal/api"
	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/metoffice"
	"github.com/nerrad567/gray-logic-cloudlink/internal/bindings/unifiprotect"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/limiter"
	"github.com/nerrad567/gray-logic-cloudlink/internal/cloud/notify"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cloudlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cloudlink/internal/kvstore"
	"github.com/nerrad567/gray-logic-cloudlink/internal/observability"
	"github.com/nerrad567/gray-logic-cloudlink/internal/relay"
	"github.com/nerrad567/gray-logic-cloudlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// binding is what main needs from every cloud binding.
type binding interface {
	Source() string
	Limiter() *limiter.Limiter
	PollCommand(ctx context.Context, subject, kind string) error
	Run(ctx context.Context) error
	Close() error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//
// Returns:
//   - error: nil on clean shutdown, or the first startup or binding failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Cloudlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	store := kvstore.NewSQLiteStore(db)

	registry := notify.NewRegistry()
	registry.SetLogger(log.With("component", "notify"))
	defer registry.Close()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	collector := observability.NewCollector()
	registry.Register(collector)

	relayCfg := relay.Config{Publisher: mqttClient, Logger: log.With("component", "relay")}
	if influxClient != nil {
		relayCfg.Recorder = influxClient
	}
	rel, err := relay.New(relayCfg)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	registry.Register(rel)

	bindings, err := buildBindings(cfg, store, registry, log)
	defer closeBindings(bindings, log)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		log.Warn("no cloud bindings enabled")
	}

	router := relay.NewRouter(mqttClient, mqttClient.QoS(), log.With("component", "commands"))
	sources := make([]api.Budgeted, 0, len(bindings))
	for _, b := range bindings {
		if err := router.Add(b); err != nil {
			return err
		}
		sources = append(sources, b)
		collector.ObserveBudget(b.Source(), b.Limiter().Snapshot())
	}
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := router.Stop(); stopErr != nil {
			log.Warn("error stopping poll command router", "error", stopErr)
		}
	}()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Version:    version,
			Sources:    sources,
			Status:     rel,
			Dispatcher: router,
			Metrics:    collector.Handler(),
			Checks:     checks,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete", "bindings", len(bindings))

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		g.Go(func() error {
			if runErr := b.Run(gctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("%s: %w", b.Source(), runErr)
			}
			return nil
		})
	}
	err = g.Wait()

	log.Info("shutting down")
	return err
}

// getConfigPath returns CLOUDLINK_CONFIG, or the default path.
func getConfigPath() string {
	if path := os.Getenv("CLOUDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux returns nil without error when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// buildBindings creates every enabled binding. Bindings built before a
// failure are returned so the caller can close them.
func buildBindings(cfg *config.Config, store kvstore.Store, registry *notify.Registry, log *logging.Logger) ([]binding, error) {
	var out []binding

	if cfg.DataHub.Enabled {
		account, err := metoffice.NewAccount(metoffice.AccountConfig{
			BaseURL:           cfg.DataHub.BaseURL,
			APIKey:            cfg.DataHub.APIKey,
			DailyLimit:        cfg.DataHub.DailyLimit,
			RequestsPerSecond: cfg.DataHub.RequestsPerSecond,
			Timeout:           cfg.DataHub.RequestTimeout(),
			Store:             store,
			Notifier:          registry,
			Logger:            log.ForSource(metoffice.DefaultSource, "binding"),
		})
		if err != nil {
			return out, fmt.Errorf("creating DataHub account: %w", err)
		}
		out = append(out, account)

		for _, site := range cfg.DataHub.Sites {
			if _, err := account.AddSite(metoffice.SiteConfig{
				ID:             site.ID,
				Location:       site.Location,
				HourlyPollRate: site.HourlyPollRate,
				DailyPollRate:  site.DailyPollRate,
				Jitter:         metoffice.DefaultJitter,
			}); err != nil {
				return out, fmt.Errorf("adding DataHub site %s: %w", site.ID, err)
			}
		}
		log.Info("DataHub binding ready",
			"sites", len(cfg.DataHub.Sites),
			"api_key", logging.Redact(cfg.DataHub.APIKey),
			"remaining", account.Limiter().Remaining(),
		)
	}

	if cfg.Protect.Enabled {
		protect, err := unifiprotect.New(unifiprotect.Config{
			Host:              cfg.Protect.Host,
			APIKey:            cfg.Protect.APIKey,
			DailyLimit:        cfg.Protect.DailyLimit,
			RequestsPerSecond: cfg.Protect.RequestsPerSecond,
			Timeout:           cfg.Protect.RequestTimeout(),
			HeartbeatInterval: cfg.Protect.Heartbeat(),
			ReconnectDelay:    cfg.Protect.Reconnect(),
			TLSSkipVerify:     cfg.Protect.TLSSkipVerify,
			Store:             store,
			Notifier:          registry,
			Logger:            log.ForSource(unifiprotect.DefaultSource, "binding"),
		})
		if err != nil {
			return out, fmt.Errorf("creating Protect client: %w", err)
		}
		out = append(out, protect)
		log.Info("Protect binding ready",
			"host", cfg.Protect.Host,
			"api_key", logging.Redact(cfg.Protect.APIKey),
		)
	}

	return out, nil
}

func closeBindings(bindings []binding, log *logging.Logger) {
	for _, b := range bindings {
		if err := b.Close(); err != nil {
			log.Error("error closing binding", "source", b.Source(), "error", err)
		}
	}
}

// healthCheck probes every component once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
