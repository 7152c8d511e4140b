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
	"github.com/openai/openai-go"

	"github.com/hareem123931/mr-french/internal/api"
	"github.com/hareem123931/mr-french/internal/flow"
	"github.com/hareem123931/mr-french/internal/genai"
	"github.com/hareem123931/mr-french/internal/scheduler"
	"github.com/hareem123931/mr-french/internal/store"
	"github.com/hareem123931/mr-french/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for mr-french state data
	DefaultStateDir = "/var/lib/mr-french"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "mr-french.db"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Warn("Store close failed", "error", cerr)
		}
	}()

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to create GenAI client", "error", err)
		os.Exit(1)
	}

	orchestrator := flow.NewConversationOrchestrator(st, client, flow.NewIntentAnalyzer(client))
	followup := flow.NewFollowupScheduler(st, orchestrator, buildSchedulerOptions()...)

	cron := scheduler.NewScheduler()
	defer cron.Stop()
	tickExpr := *flags.tickCron
	if tickExpr == "" {
		tickExpr = scheduler.DefaultTickExpr
	}
	if err := cron.AddJob(tickExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, terr := followup.Tick(ctx, time.Now().UTC()); terr != nil {
			slog.Error("Follow-up pass failed", "error", terr)
		}
	}); err != nil {
		slog.Error("Failed to schedule follow-up pass", "error", err, "cron", tickExpr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping mr-french", "api_addr", *flags.apiAddr, "tick_cron", tickExpr)
	server := api.NewServer(orchestrator, buildAPIOptions(flags)...)
	if err := server.Run(ctx); err != nil {
		slog.Error("mr-french failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("mr-french exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	Model       string
	APIAddr     string
	TickCron    string
	LogLevel    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	model     *string
	apiAddr   *string
	tickCron  *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(logLevel string) {
	level := util.ParseLogLevel(logLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("MRFRENCH_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		Model:       os.Getenv("OPENAI_MODEL"),
		APIAddr:     os.Getenv("API_ADDR"),
		TickCron:    os.Getenv("TICK_SCHEDULE"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MRFRENCH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MRFRENCH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.Model,
		"API_ADDR", config.APIAddr,
		"TICK_SCHEDULE", config.TickCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for mr-french data (overrides $MRFRENCH_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:     flag.String("openai-model", config.Model, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		tickCron:  flag.String("tick-cron", config.TickCron, "cron expression for the follow-up pass (overrides $TICK_SCHEDULE)"),
	}

	flag.Parse()

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
		slog.Debug("State directory ready", "state_dir", stateDir)
	}
	return nil
}

// openStore selects and opens the persistence backend from the DSN
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Info("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		opts = append(opts, genai.WithModel(openai.ChatModel(*flags.model)))
	}
	return opts
}

// buildSchedulerOptions constructs follow-up pacing options from the environment
func buildSchedulerOptions() []flow.SchedulerOption {
	var opts []flow.SchedulerOption
	if d := util.ParseDurationEnv("REMINDER_SPACING", 0); d > 0 {
		opts = append(opts, flow.WithReminderSpacing(d))
	}
	if d := util.ParseDurationEnv("ESCALATION_SPACING", 0); d > 0 {
		opts = append(opts, flow.WithEscalationSpacing(d))
	}
	if d := util.ParseDurationEnv("DUE_LOOKAHEAD", 0); d > 0 {
		opts = append(opts, flow.WithDueLookahead(d))
	}
	if d := util.ParseDurationEnv("SILENCE_TIMEOUT", 0); d > 0 {
		opts = append(opts, flow.WithSilenceTimeout(d))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}
