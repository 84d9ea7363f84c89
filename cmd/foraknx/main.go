// foraknx keeps KNX installations and the Fora message bus in sync.
//
// It provisions datapoints for every catalog device of this app, publishes
// KNX status telegrams as retained datapoint values and writes control
// messages back to the bus through knxd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/fora-knx-bridge/internal/api"
	"github.com/nerrad567/fora-knx-bridge/internal/app"
	"github.com/nerrad567/fora-knx-bridge/internal/bridges/knx"
	"github.com/nerrad567/fora-knx-bridge/internal/catalog"
	"github.com/nerrad567/fora-knx-bridge/internal/control"
	"github.com/nerrad567/fora-knx-bridge/internal/engine"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fora-knx-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fora-knx-bridge/internal/journal"
	"github.com/nerrad567/fora-knx-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and blocks until ctx is cancelled. Only failures
// of the startup infrastructure (config, database, bus) are returned.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting foraknx",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"app_id", cfg.App.ID,
		"echo_mode", cfg.KNX.EchoMode,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var repo journal.Repository
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("provisioning journal ready", "path", cfg.Database.Path)
	}

	var telemetry engine.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	catalogClient, err := catalog.New(catalog.Config{
		URL:     cfg.Catalog.URL,
		AppID:   cfg.App.ID,
		Token:   cfg.App.Token,
		Timeout: cfg.CatalogTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating catalog client: %w", err)
	}

	bus, err := mqtt.Connect(cfg.MQTT, cfg.App.ID)
	if err != nil {
		return fmt.Errorf("connecting to message bus: %w", err)
	}
	defer func() {
		log.Info("disconnecting from message bus")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing message bus", "error", closeErr)
		}
	}()
	bus.SetLogger(log.Component("mqtt"))
	log.Info("message bus connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	remote := logging.NewRemote(bus, bus.Topics().Log(), bus.QoS(), log)

	eng, err := newEngine(cfg, catalogClient, bus, repo, telemetry, remote, registry, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping synchronization engine")
		if closeErr := eng.Close(); closeErr != nil {
			log.Error("error stopping engine", "error", closeErr)
		}
	}()

	lifecycle, err := app.New(app.Options{
		Engine: eng,
		Schema: catalogClient,
		Bus:    bus,
		Topics: bus.Topics(),
		QoS:    bus.QoS(),
		Remote: remote,
		Logger: log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}
	defer lifecycle.Stop()

	bus.SetOnConnect(lifecycle.OnConnect)
	bus.SetOnDisconnect(func(err error) {
		log.Warn("message bus disconnected", "error", err)
	})

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Engine:   eng,
			Reloader: lifecycle,
			Bus:      bus,
			Journal:  repo,
			Gatherer: registry,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("starting app: %w", err)
	}
	log.Info("foraknx running")

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func newEngine(
	cfg *config.Config,
	catalogClient *catalog.Client,
	bus *mqtt.Client,
	repo journal.Repository,
	telemetry engine.Telemetry,
	remote *logging.Remote,
	registry prometheus.Registerer,
	log *logging.Logger,
) (*engine.Engine, error) {
	engineMetrics, err := engine.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("registering engine metrics: %w", err)
	}
	routerMetrics, err := control.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("registering router metrics: %w", err)
	}

	opts := engine.Options{
		Catalog:       catalogClient,
		Bus:           bus,
		Dial:          knxDialer(cfg, log.Component("knx")),
		QoS:           bus.QoS(),
		EchoMode:      engine.EchoMode(cfg.KNX.EchoMode),
		ReadOnBind:    cfg.KNX.ReadOnBind,
		Journal:       repo,
		Telemetry:     telemetry,
		Metrics:       engineMetrics,
		RouterMetrics: routerMetrics,
		Logger:        log.Logger,
	}
	if cfg.KNX.LogEvents {
		opts.Tap = app.TelegramLogger(remote)
	}

	eng, err := engine.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return eng, nil
}

// knxDialer connects to knxd on the gateway host named by the catalog.
func knxDialer(cfg *config.Config, log *logging.Logger) engine.Dialer {
	return func(ctx context.Context, host string) (knx.Connector, error) {
		client, err := knx.Connect(ctx, knx.KNXDConfig{
			Connection:        knx.GatewayURL(host, cfg.KNX.Port),
			ConnectTimeout:    cfg.KNXConnectTimeout(),
			ReconnectInterval: cfg.KNXReconnectInterval(),
		})
		if err != nil {
			return nil, err
		}
		client.SetLogger(log)
		return client, nil
	}
}

func getConfigPath() string {
	if path := os.Getenv("FORAKNX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
