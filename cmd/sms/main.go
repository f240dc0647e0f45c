package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danelas/sms/internal/api"
	"github.com/danelas/sms/internal/coordinator"
	"github.com/danelas/sms/internal/directory"
	"github.com/danelas/sms/internal/genai"
	"github.com/danelas/sms/internal/hubspot"
	"github.com/danelas/sms/internal/lockfile"
	"github.com/danelas/sms/internal/messaging"
	"github.com/danelas/sms/internal/scheduler"
	"github.com/danelas/sms/internal/store"
	"github.com/danelas/sms/internal/twiliosms"
	"github.com/danelas/sms/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for booking service state data
	DefaultStateDir = "/var/lib/goldtouch-sms"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "sms.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("Booking service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Booking service exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	HubSpotToken    string
	APIAddr         string
	ProvidersCSV    string
	ResponseTimeout time.Duration
	MaintenanceCron string
	DryRun          bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	apiAddr         *string
	providersCSV    *string
	maintenanceCron *string
	dryRun          *bool

	responseTimeout time.Duration
	hubspotToken    string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("SMS_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		HubSpotToken:    os.Getenv("HUBSPOT_ACCESS_TOKEN"),
		APIAddr:         os.Getenv("API_ADDR"),
		ProvidersCSV:    os.Getenv("PROVIDERS_CSV"),
		ResponseTimeout: util.ParseDurationEnv("RESPONSE_TIMEOUT", coordinator.DefaultResponseTimeout),
		MaintenanceCron: os.Getenv("MAINTENANCE_SCHEDULE"),
		DryRun:          util.ParseBoolEnv("SMS_DRY_RUN", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SMS_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SMS_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"HUBSPOT_ACCESS_TOKEN_SET", config.HubSpotToken != "",
		"API_ADDR", config.APIAddr,
		"PROVIDERS_CSV", config.ProvidersCSV,
		"RESPONSE_TIMEOUT", config.ResponseTimeout,
		"SMS_DRY_RUN", config.DryRun)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for booking service data (overrides $SMS_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the store (overrides $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		providersCSV:    flag.String("providers-csv", config.ProvidersCSV, "CSV file to seed the provider directory (overrides $PROVIDERS_CSV)"),
		maintenanceCron: flag.String("maintenance-cron", config.MaintenanceCron, "cron schedule for maintenance jobs (overrides $MAINTENANCE_SCHEDULE)"),
		dryRun:          flag.Bool("dry-run", config.DryRun, "log outbound SMS instead of sending via Twilio (overrides $SMS_DRY_RUN)"),

		responseTimeout: config.ResponseTimeout,
		hubspotToken:    config.HubSpotToken,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"providersCSV", *flags.providersCSV,
		"dryRun", *flags.dryRun)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore opens the configured store backend.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildSender selects the Twilio client or, in dry-run mode, the mock.
func buildSender(flags Flags) (twiliosms.SMSSender, error) {
	if *flags.dryRun {
		slog.Warn("Dry-run mode: outbound SMS will be recorded, not sent")
		return twiliosms.NewMockClient(), nil
	}
	return twiliosms.NewClient()
}

// buildDirectory loads providers from the store, seeding from CSV when
// the store is empty and a seed file is configured.
func buildDirectory(flags Flags, st store.Store) (*directory.Directory, error) {
	dir := directory.New()

	persisted, err := st.GetProviders()
	if err != nil {
		return nil, err
	}
	if len(persisted) > 0 {
		slog.Info("Loading providers from store", "count", len(persisted))
		if err := dir.AddAll(persisted); err != nil {
			return nil, err
		}
		return dir, nil
	}

	if *flags.providersCSV == "" {
		slog.Warn("No providers in store and no CSV seed configured; directory starts empty")
		return dir, nil
	}

	providers, err := directory.LoadCSV(*flags.providersCSV)
	if err != nil {
		return nil, err
	}
	slog.Info("Seeding providers from CSV", "path", *flags.providersCSV, "count", len(providers))
	if err := dir.AddAll(providers); err != nil {
		return nil, err
	}
	for _, p := range providers {
		if err := st.SaveProvider(p); err != nil {
			slog.Warn("Failed to persist seeded provider", "phone", p.Phone, "error", err)
		}
	}
	return dir, nil
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Two daemons sharing one state directory would double-solicit
	// providers; refuse to start if another instance holds it.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	sender, err := buildSender(flags)
	if err != nil {
		return err
	}
	msgService := messaging.NewTwilioService(sender)
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	dir, err := buildDirectory(flags, st)
	if err != nil {
		return err
	}

	coord := coordinator.New(msgService, dir, st,
		coordinator.WithResponseTimeout(flags.responseTimeout))
	defer coord.Stop()
	if err := coord.Restore(ctx); err != nil {
		slog.Error("Failed to restore bookings", "error", err)
	}

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.openaiKey != "" {
		assistant, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithAssistant(assistant))
	} else {
		slog.Warn("No OpenAI API key configured; assistant replies disabled")
	}

	maintenanceOpts := []scheduler.MaintenanceOption{}
	if flags.hubspotToken != "" {
		crm, err := hubspot.NewClient(hubspot.WithAccessToken(flags.hubspotToken))
		if err != nil {
			return err
		}
		maintenanceOpts = append(maintenanceOpts, scheduler.WithContactSyncer(crm))
	} else {
		slog.Warn("No HubSpot token configured; CRM contact sync disabled")
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	maintenance := scheduler.NewMaintenance(st, maintenanceOpts...)
	if err := maintenance.Register(sched, *flags.maintenanceCron); err != nil {
		return err
	}

	slog.Info("Bootstrapping booking service",
		"providers", dir.Len(),
		"response_timeout", flags.responseTimeout,
		"dry_run", *flags.dryRun)

	server := api.NewServer(msgService, coord, st, dir, apiOpts...)
	return server.Run(ctx)
}
