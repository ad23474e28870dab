// EchoBeacon Core pairs tracking beacons with vehicles in a workshop yard.
//
// It keeps the live lists of vehicles waiting for a beacon and of free
// beacons, pairs them on request, sends commands to the beacons over MQTT
// and records every message exchanged with them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/GuLopes14/echobeacon-core/migrations"

	"github.com/GuLopes14/echobeacon-core/internal/api"
	"github.com/GuLopes14/echobeacon-core/internal/audit"
	"github.com/GuLopes14/echobeacon-core/internal/command"
	"github.com/GuLopes14/echobeacon-core/internal/fleet"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/config"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/database"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/influxdb"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/logging"
	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
	"github.com/GuLopes14/echobeacon-core/internal/metrics"
	"github.com/GuLopes14/echobeacon-core/internal/pairing"
	"github.com/GuLopes14/echobeacon-core/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the audit queue drain on exit.
	shutdownTimeout = 10 * time.Second

	// readyTimeout bounds the wait for the first live-set snapshots.
	readyTimeout = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool
	migrations  string
}

// Values of --migrations.
const (
	migrationsStatus = "status"
	migrationsDown   = "down"
)

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("echobeacon", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (env ECHOBEACON_CONFIG)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	fs.StringVar(&opts.migrations, "migrations", "", `"status" lists schema migrations, "down" reverts the latest; then exit`)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch opts.migrations {
	case "", migrationsStatus, migrationsDown:
	default:
		return options{}, fmt.Errorf("invalid --migrations value %q (want %s or %s)", opts.migrations, migrationsStatus, migrationsDown)
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns the configuration file path from the environment or
// the default.
func getConfigPath() string {
	if path := os.Getenv("ECHOBEACON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application, separated from main for testability.
func run(ctx context.Context, args []string) error { //nolint:gocognit,gocyclo // linear startup sequence
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("echobeacon %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting EchoBeacon Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath, "site", cfg.Site.ID)

	// Database
	db, err := database.Open(database.Config{
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
	if opts.migrations != "" {
		return runMigrations(ctx, db, opts.migrations, os.Stdout)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	docs := store.NewSQLiteStore(db.DB)
	docs.SetLogger(log.Component("store"))

	// InfluxDB mirror (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer func() {
		if closeErr := influxClient.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()
	if influxClient.IsConnected() {
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Audit
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, cfg.Audit.QueueSize)
	recorder.SetLogger(log.Component("audit"))
	if influxClient.IsConnected() {
		recorder.AddMirror(func(rec audit.Record) {
			influxClient.WriteMessage(string(rec.Direction), rec.Topic, rec.Payload, rec.CreatedAt)
		})
	}
	recorder.Start()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := recorder.Close(drainCtx); closeErr != nil {
			log.Error("audit queue not drained", "error", closeErr)
		}
	}()

	// MQTT
	mqttClient := mqtt.NewClient()
	mqttClient.SetLogger(log.Component("mqtt"))
	removeMetrics := mqttClient.OnStatusChange(func(change mqtt.StatusChange) {
		metrics.ObserveConnectionStatus(string(change.To))
		if change.Err != nil {
			log.Warn("mqtt status changed", "from", change.From, "to", change.To, "error", change.Err)
			return
		}
		log.Info("mqtt status changed", "from", change.From, "to", change.To)
	})
	defer removeMetrics()

	registry := mqtt.NewRegistry(mqttClient)
	registry.SetLogger(log.Component("mqtt"))
	defer registry.Close()

	topics := mqtt.TopicsFromConfig(cfg.Topics)
	mqttOpts := mqtt.OptionsFromConfig(cfg.MQTT)

	publisher := command.NewPublisher(mqttClient, recorder, topics)
	publisher.SetLogger(log.Component("command"))

	statusMonitor := command.NewStatusMonitor(registry, recorder, topics.Status)
	statusMonitor.SetLogger(log.Component("command"))
	if err := statusMonitor.Start(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topics.Status, err)
	}
	defer func() {
		if stopErr := statusMonitor.Stop(); stopErr != nil {
			log.Warn("error stopping status monitor", "error", stopErr)
		}
	}()

	if cfg.MQTT.AutoConnect {
		if err := mqttClient.Connect(mqttOpts); err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		mqttClient.Disconnect()
	}()

	// Pairing
	fleetRepo := fleet.NewRepository(docs)
	pairer := pairing.NewPairer(docs)
	reconciler := pairing.NewReconciler(docs, pairer)
	reconciler.SetLogger(log.Component("pairing"))
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting pairing: %w", err)
	}
	defer reconciler.Stop()

	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	err = reconciler.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return fmt.Errorf("waiting for live sets: %w", err)
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// API
	if !cfg.API.Enabled {
		log.Info("API disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		MQTT:        mqttClient,
		MQTTOptions: mqttOpts,
		Fleet:       fleetRepo,
		Pairer:      pairer,
		Reconciler:  reconciler,
		Publisher:   publisher,
		Status:      statusMonitor,
		AuditRepo:   auditRepo,
		DB:          db.DB,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()
	log.Info("shutdown signal received, cleaning up")
	if err != nil {
		return err
	}

	log.Info("EchoBeacon Core stopped")
	return nil
}

// runMigrations performs a --migrations action and reports it on w.
func runMigrations(ctx context.Context, db *database.DB, action string, w io.Writer) error {
	switch action {
	case migrationsDown:
		m, err := db.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		if m.Version == "" {
			fmt.Fprintln(w, "no migrations applied")
			return nil
		}
		fmt.Fprintf(w, "rolled back %s_%s\n", m.Version, m.Name)
		return nil
	default:
		status, err := db.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
		for _, st := range status {
			applied := "pending"
			if st.Applied {
				applied = st.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Version, st.Name, applied)
		}
		return tw.Flush()
	}
}

// healthCheck verifies the backing stores concurrently.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(checkCtx)
	g.Go(func() error {
		if err := db.HealthCheck(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if influxClient.IsConnected() {
		g.Go(func() error {
			if err := influxClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
