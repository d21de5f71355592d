// Package main provides the entry point for the nordprices CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andygrunwald/nordpool-prices/internal/api/nordpool"
	"github.com/andygrunwald/nordpool-prices/internal/config"
	"github.com/andygrunwald/nordpool-prices/internal/database"
	"github.com/andygrunwald/nordpool-prices/internal/prices"
	"github.com/andygrunwald/nordpool-prices/internal/refresher"
	"github.com/andygrunwald/nordpool-prices/internal/reminder"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "none"
	// BuildDate is set at build time.
	BuildDate = "unknown"
)

var cfg *config.Config

func main() {
	if err := config.LoadDotEnv(os.Getenv("DOTENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg = config.DefaultConfig()
	cfg.LoadFromEnv()

	rootCmd := &cobra.Command{
		Use:   "nordprices",
		Short: "Nord Pool Prices - hourly electricity prices with reminders",
		Long: `nordprices fetches Nord Pool day-ahead electricity prices, groups them into
hourly prices in the local timezone and reminds you before the hours you pick.

Features:
  - Hourly prices for today and tomorrow
  - Reminders ahead of selected hours, persisted in a file, Redis or PostgreSQL
  - Daily update check against the published release manifest
  - Prometheus metrics, status and JSON price endpoints`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&cfg.FeedURL, "feed-url", cfg.FeedURL, "URL of the hourly price CSV feed")
	rootCmd.PersistentFlags().StringVar(&cfg.Timezone, "timezone", cfg.Timezone, "Reference timezone for hours and days")
	rootCmd.PersistentFlags().IntVar(&cfg.LeadMinutes, "lead-minutes", cfg.LeadMinutes, "Minutes a reminder fires before its hour")
	rootCmd.PersistentFlags().IntSliceVar(&cfg.SurfacedDays, "days", cfg.SurfacedDays, "Day offsets to show, relative to today")
	rootCmd.PersistentFlags().StringVar(&cfg.ReminderStore, "reminder-store", cfg.ReminderStore, "Reminder store (file, redis, postgres)")
	rootCmd.PersistentFlags().StringVar(&cfg.ReminderFile, "reminder-file", cfg.ReminderFile, "Reminder file for the file store")
	rootCmd.PersistentFlags().StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis connection URL")

	// Add subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(pricesCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger() zerolog.Logger {
	var logger zerolog.Logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}

	return logger
}

// newRefresher creates the feed provider and the refresher around it.
func newRefresher(logger zerolog.Logger) (*refresher.Refresher, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	provider := nordpool.New(cfg.FeedURL, loc, logger)
	return refresher.New(provider, prices.NewSelector(loc, cfg.SurfacedDays), logger), nil
}

// openStore opens the configured reminder store. The returned function
// releases its resources.
func openStore(ctx context.Context, logger zerolog.Logger) (reminder.Store, func() error, error) {
	switch cfg.ReminderStore {
	case config.StoreRedis:
		s, err := reminder.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return s, s.Close, nil
	case config.StorePostgres:
		db, err := database.New(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return reminder.NewFileStore(cfg.ReminderFile), func() error { return nil }, nil
	}
}

// newReminderScheduler wires a reminder scheduler around store and alarm.
func newReminderScheduler(alarm reminder.Alarm, store reminder.Store, logger zerolog.Logger) (*reminder.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	perms := reminder.StaticPermissions{
		Notifications: cfg.NotificationsAllowed,
		ExactAlarms:   cfg.ExactAlarmsAllowed,
	}
	return reminder.NewScheduler(alarm, store, perms, cfg.LeadMinutes, loc, logger), nil
}
