// Arlo cloud link for Gray Logic.
//
// This is the main entry point of the link. It signs in to the Arlo cloud
// (answering MFA challenges by hand or from a mailbox), mirrors the account's
// hubs and cameras into the local device tree over MQTT, and serves the
// settings API used to configure it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-arlo/internal/api"
	"github.com/nerrad567/gray-logic-arlo/internal/audit"
	"github.com/nerrad567/gray-logic-arlo/internal/cloud"
	"github.com/nerrad567/gray-logic-arlo/internal/discovery"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arlo/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arlo/internal/mailbox"
	"github.com/nerrad567/gray-logic-arlo/internal/registry"
	"github.com/nerrad567/gray-logic-arlo/internal/session"
	"github.com/nerrad567/gray-logic-arlo/internal/settings"
	"github.com/nerrad567/gray-logic-arlo/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// defaultTokenTTL is the lifetime of tokens printed by --issue-token.
const defaultTokenTTL = 30 * 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
	issueToken  string
	tokenTTL    time.Duration
}

// parseFlags parses args. The config path falls back to ARLOLINK_CONFIG,
// then the default.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("arlolink", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version information and exit")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a settings API bearer token for `subject` and exit")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", defaultTokenTTL, "lifetime of the token printed by --issue-token")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv("ARLOLINK_CONFIG")
	}
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(out, "arlolink %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		token, tokenErr := api.IssueToken(cfg.Security.JWT.Secret, opts.issueToken, opts.tokenTTL)
		if tokenErr != nil {
			return tokenErr
		}
		fmt.Fprintln(out, token)
		return nil
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting Arlo cloud link",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	return serve(ctx, cfg, log)
}

// serve wires every component and blocks until ctx is cancelled.
// Deferred Close() calls run in reverse order of startup.
func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error { //nolint:gocognit,funlen // linear startup sequence
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

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
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB is optional; the metric sinks stay nil interfaces when off.
	var (
		influxClient     *influxdb.Client
		sessionMetrics   session.Metrics
		discoveryMetrics discovery.Metrics
		mfaRecorder      mailbox.Recorder
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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
		sessionMetrics, discoveryMetrics, mfaRecorder = influxClient, influxClient, influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Settings
	var sealer *settings.Sealer
	if cfg.Security.TokenKey != "" {
		sealer = settings.NewSealer(cfg.Security.TokenKey)
	} else {
		log.Warn("security.token_key not set, Arlo auth headers are stored unsealed")
	}
	store := settings.NewStore(settings.NewSQLiteStorage(db.DB), settings.StoreOptions{
		Sealer:  sealer,
		Sender:  cfg.IMAP.Sender,
		Mailbox: cfg.IMAP.Mailbox,
	})
	if err := store.Seed(ctx, cfg); err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}

	auditLog := audit.NewSQLiteRepository(db.DB)

	relay := newEventRelay(mqttClient, log.With("component", "relay"))
	relay.audit = auditLog
	go relay.run(ctx)

	// Host device registry
	reg := registry.NewRegistry(registry.NewSQLiteRepository(db.DB))
	reg.SetLogger(log.With("component", "registry"))
	reg.SetPublisher(mqttClient)
	reg.SetOnChange(relay.deviceChanged)
	if err := reg.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry loaded", "devices", reg.Count())

	engine := discovery.NewEngine(reg)
	engine.SetLogger(log.With("component", "discovery"))
	if discoveryMetrics != nil {
		engine.SetMetrics(discoveryMetrics)
	}

	cloudLog := log.With("component", "cloud")
	manager := session.New(session.Options{
		Store: store,
		NewClient: func(transport cloud.Transport) (cloud.Client, error) {
			c, clientErr := cloud.NewHTTPClient(cloud.Options{
				BaseURL:      cfg.Arlo.BaseURL,
				AuthURL:      cfg.Arlo.AuthURL,
				StreamBroker: cfg.Arlo.StreamBroker,
				Transport:    transport,
				Timeout:      time.Duration(cfg.Arlo.RequestTimeout) * time.Second,
				OnEvent:      relay.cloudEvent,
				Logger:       cloudLog,
			})
			if clientErr != nil {
				return nil, clientErr
			}
			return c, nil
		},
		Discoverer: engine,
		Logger:     log.With("component", "session"),
		Metrics:    sessionMetrics,
		OnState:    relay.sessionState,
	})
	defer func() {
		log.Info("closing cloud session")
		manager.Close()
	}()

	poller := mailbox.New(mailbox.Options{
		Dialer:   mailbox.IMAPDialer{},
		Session:  manager,
		Logger:   log.With("component", "mailbox"),
		Recorder: mfaRecorder,
	})
	defer func() {
		log.Info("stopping mailbox poller")
		poller.Close()
	}()

	facade := settings.NewFacade(store, settings.FacadeOptions{
		Session:   manager,
		Mailbox:   poller,
		Verbosity: log,
		Logger:    log.With("component", "settings"),
	})

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Settings:  facade,
		Session:   manager,
		Registry:  reg,
		Discovery: engine,
		Audit:     auditLog,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	relay.setHub(server.Hub())
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := facade.Start(ctx); err != nil {
		return fmt.Errorf("starting settings: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil if disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
