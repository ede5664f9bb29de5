// File: cmd/relay/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/cache"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/delivery"
	"github.com/smartdevs17/fleet-alert-relay/internal/ingestion"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/internal/processor"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/server"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Manager
	storage storage.Storage
	tenants *tenant.Registry
	queue   *queue.Queue
	dedupe  cache.DedupeStore
	gateway *ingestion.Gateway
	stream  *ingestion.StreamSubscriber
	rules   *processor.Engine
	server  *server.HTTPServer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents builds the relay bottom-up
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")
	app.metrics = metrics.NewManager()
	pm := app.metrics.GetPrometheusMetrics()

	if err := app.initializeStorage(pm); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var err error
	app.tenants, err = tenant.NewRegistry(app.config.Tenants)
	if err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	app.dedupe, err = cache.NewDedupeStore(app.ctx, app.config.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize dedupe store: %w", err)
	}

	app.queue = queue.New(app.config.Queue, pm)

	emitter := audit.NewEmitter(app.tenants, app.storage, app.queue, pm)
	activity := collaborators.NewActivityLog(app.storage)

	acks := ack.NewResolver(app.storage, activity, emitter, pm, app.config.Notification.ReplyWindow)
	tracker := delivery.NewTracker(app.storage, acks, emitter, app.queue, pm)

	transport := notification.NewTransportWithMetrics(notification.NewProviderTransport(app.config.Notification), pm)
	notifier := notification.NewEngine(app.storage, app.tenants, app.tenants, app.dedupe, transport, tracker, app.queue, pm,
		notification.Options{
			DedupeTTL:       app.config.Redis.DedupeTTL,
			MaxRecipients:   app.config.Notification.MaxRecipientsPerRun,
			DefaultTemplate: app.config.Notification.DefaultTemplate,
		})

	var pipeline collaborators.Pipeline
	if app.config.Pipeline.Enabled {
		pipeline = collaborators.NewHTTPPipeline(app.config.Pipeline)
	}
	triage := processor.NewTriage(app.storage, pipeline, notifier, activity, emitter, app.queue, pm)

	app.rules = processor.NewEngine(app.storage, app.tenants, triage, notifier, emitter, pm, app.config.Notification.DefaultTemplate)
	app.gateway = ingestion.NewGateway(app.storage, app.tenants, app.tenants, triage, emitter, pm, app.config.Ingestion.DefaultTenant)

	deps := server.Dependencies{
		Gateway: app.gateway,
		Tracker: tracker,
		Acks:    acks,
		Secrets: app.tenants,
		Storage: app.storage,
		Queue:   app.queue,
		Metrics: app.metrics,
	}
	if app.config.MQTT.Enabled {
		app.stream = ingestion.NewStreamSubscriber(app.config.MQTT, app.rules, app.tenants, pm)
		deps.Stream = app.stream
	}
	app.server = server.NewHTTPServer(app.config, deps)

	app.logger.WithField("tenants", len(app.tenants.IDs())).Info("All components initialized successfully")
	return nil
}

// initializeStorage connects and migrates the database
func (app *Application) initializeStorage(pm *metrics.PrometheusMetrics) error {
	store, err := openStorage(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, pm)
	return nil
}

func openStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run storage migrations: %w", err)
	}
	return store, nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting fleet alert relay")

	app.queue.Start()

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.stream != nil {
		if err := app.stream.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start stream subscriber: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"mqtt_enabled":   app.config.MQTT.Enabled,
		"pipeline":       app.config.Pipeline.Enabled,
	}).Info("Fleet alert relay started successfully")
	return nil
}

// Stop stops intake first, then drains queued work and closes storage
func (app *Application) Stop() {
	app.logger.Info("Stopping fleet alert relay")

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.server.Stop(ctx); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
		cancel()
	}

	if app.stream != nil {
		app.stream.Stop()
	}

	app.cancel()

	if app.queue != nil {
		app.queue.Stop()
	}

	if app.dedupe != nil {
		if err := app.dedupe.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close dedupe store")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Fleet alert relay stopped")
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:     "fleet-alert-relay",
	Short:   "Fleet safety alert relay",
	Long:    `Ingests telematics safety events, routes them through tenant rules and escalates them to fleet contacts over SMS, WhatsApp and voice.`,
	Version: AppVersion,
	RunE:    runRelay,
}

// runRelay is the main command to run the relay
func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	app.logger.Info("Received shutdown signal")
	app.Stop()
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fleet Alert Relay %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := tenant.NewRegistry(cfg.Tenants); err != nil {
			return fmt.Errorf("tenant configuration invalid: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Tenants: %d\n", len(cfg.Tenants))
		fmt.Printf("MQTT stream: %t\n", cfg.MQTT.Enabled)
		fmt.Printf("AI pipeline: %t\n", cfg.Pipeline.Enabled)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Printf("Migrations applied to %s database\n", cfg.Storage.Type)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test storage and cache connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("✓ Storage connection successful")

		if cfg.Redis.Enabled {
			fmt.Printf("Testing redis connection (%s)...\n", cfg.Redis.Addr)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			dedupe, err := cache.NewDedupeStore(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			dedupe.Close()
			fmt.Println("✓ Redis connection successful")
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
