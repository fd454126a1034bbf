package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/telehole/telehole/internal/router"
	"github.com/telehole/telehole/internal/session"
	"github.com/telehole/telehole/internal/store"
	"github.com/telehole/telehole/internal/telegram"
	"github.com/telehole/telehole/internal/thread"
	"github.com/telehole/telehole/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TeleHole state data
	DefaultStateDir = "/var/lib/telehole"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "telehole.db"
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

	slog.Info("Bootstrapping TeleHole")
	if err := run(flags); err != nil {
		slog.Error("TeleHole failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TeleHole exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken    string
	Channel     string
	DatabaseURL string
	StateDir    string
	DebugSecret string
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	botToken    *string
	channel     *string
	stateDir    *string
	dbDSN       *string
	debugSecret *string
	debug       *bool
}

// initializeLogger sets up structured logging with the level taken from the
// environment (defaults to info).
func initializeLogger() {
	level := util.ParseLevelEnv("TELEHOLE_LOG_LEVEL", slog.LevelInfo)
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
		BotToken:    os.Getenv("TELEHOLE_BOT_TOKEN"),
		Channel:     os.Getenv("TELEHOLE_CHANNEL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("TELEHOLE_STATE_DIR"),
		DebugSecret: os.Getenv("TELEHOLE_DEBUG_SECRET"),
		Debug:       util.ParseBoolEnv("TELEHOLE_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TELEHOLE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("TELEHOLE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEHOLE_BOT_TOKEN_SET", config.BotToken != "",
		"TELEHOLE_CHANNEL", config.Channel,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TELEHOLE_STATE_DIR", config.StateDir,
		"TELEHOLE_DEBUG_SECRET_SET", config.DebugSecret != "",
		"TELEHOLE_DEBUG", config.Debug)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:    flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $TELEHOLE_BOT_TOKEN)"),
		channel:     flag.String("channel", config.Channel, "public channel username the bot posts to (overrides $TELEHOLE_CHANNEL)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for TeleHole data (overrides $TELEHOLE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the session and thread store (overrides $DATABASE_URL)"),
		debugSecret: flag.String("debug-secret", config.DebugSecret, "shared secret that unlocks debug commands (overrides $TELEHOLE_DEBUG_SECRET)"),
		debug:       flag.Bool("debug", config.Debug, "enable Bot API debug logging (overrides $TELEHOLE_DEBUG)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"botTokenSet", *flags.botToken != "",
		"channel", *flags.channel,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"debugSecretSet", *flags.debugSecret != "",
		"debug", *flags.debug)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

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

// buildStore opens the store backend selected by the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// run wires the modules together and blocks on the update loop until a
// termination signal arrives.
func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := telegram.NewClient(
		telegram.WithToken(*flags.botToken),
		telegram.WithChannel(*flags.channel),
		telegram.WithDebug(*flags.debug),
	)
	if err != nil {
		return err
	}
	if err := client.RegisterCommands(); err != nil {
		slog.Warn("Failed to register bot commands", "error", err)
	}

	sessions := session.NewManager(st)
	threads := thread.NewRegistry(st)
	rt := router.New(router.Config{
		ChannelID:    client.ChannelID(),
		ChannelName:  client.ChannelName(),
		DiscussionID: client.DiscussionID(),
		DebugSecret:  *flags.debugSecret,
	}, sessions, threads, telegram.NewRelay(client))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("TeleHole running",
		"channel", client.ChannelName(),
		"channel_id", client.ChannelID(),
		"discussion_id", client.DiscussionID())
	return telegram.NewEventLoop(client, rt).Run(ctx)
}
