// Package config provides configuration structures and loading for the price service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// Embedded so the reference timezone resolves on hosts without zoneinfo.
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Reminder store backends.
const (
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds all configuration for the price service.
type Config struct {
	// Log level (debug, info, warn, error)
	LogLevel string
	// Log format (json, console)
	LogFormat string
	// HTTP server address
	HTTPAddr string
	// Price feed URL
	FeedURL string
	// Update manifest URL
	ManifestURL string
	// IANA name of the reference timezone
	Timezone string
	// Minutes a reminder fires before its hour starts
	LeadMinutes int
	// Days surfaced by the price window, relative to today
	SurfacedDays []int
	// Reminder store backend (file, redis, postgres)
	ReminderStore string
	// Path of the reminder file for the file store
	ReminderFile string
	// PostgreSQL connection string
	PostgresDSN string
	// Redis connection URL
	RedisURL string
	// Directory for downloaded packages
	DownloadDir string
	// File name prefix of downloaded packages
	PackagePrefix string
	// Local hour (0-23) of the daily update check, -1 disables it
	UpdateCheckHour int
	// How often the service syncs armed reminders with the store, 0 disables it
	ReconcileInterval time.Duration
	// Host permissions
	NotificationsAllowed bool
	ExactAlarmsAllowed   bool
	InstallAllowed       bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "json",
		HTTPAddr:             ":8080",
		FeedURL:              "https://nordpool.didnt.work/nordpool-lv-1h.csv",
		ManifestURL:          "https://gitlab.com/dmitrijsmok1/nordpool1hprices-updates/-/raw/main/update.json",
		Timezone:             "Europe/Riga",
		LeadMinutes:          10,
		SurfacedDays:         []int{0, 1},
		ReminderStore:        StoreFile,
		ReminderFile:         "data/reminders.json",
		DownloadDir:          "data/downloads",
		PackagePrefix:        "nordPool1hPrices",
		UpdateCheckHour:      9,
		ReconcileInterval:    time.Minute,
		NotificationsAllowed: true,
		ExactAlarmsAllowed:   true,
		InstallAllowed:       false,
	}
}

// LoadDotEnv loads variables from a .env file into the environment.
// Variables already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.FeedURL = v
	}
	if v, ok := os.LookupEnv("MANIFEST_URL"); ok {
		c.ManifestURL = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("LEAD_MINUTES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			c.LeadMinutes = i
		}
	}
	if v := os.Getenv("SURFACED_DAYS"); v != "" {
		if days, err := ParseDays(v); err == nil {
			c.SurfacedDays = days
		}
	}
	if v := os.Getenv("REMINDER_STORE"); v != "" {
		c.ReminderStore = strings.ToLower(v)
	}
	if v := os.Getenv("REMINDER_FILE"); v != "" {
		c.ReminderFile = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("PACKAGE_PREFIX"); v != "" {
		c.PackagePrefix = v
	}
	if v := os.Getenv("UPDATE_CHECK_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= -1 && i <= 23 {
			c.UpdateCheckHour = i
		}
	}
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.ReconcileInterval = d
		}
	}
	if v := os.Getenv("NOTIFICATIONS_ALLOWED"); v != "" {
		c.NotificationsAllowed = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("EXACT_ALARMS_ALLOWED"); v != "" {
		c.ExactAlarmsAllowed = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("INSTALL_ALLOWED"); v != "" {
		c.InstallAllowed = strings.ToLower(v) == "true"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.LeadMinutes < 0 {
		return fmt.Errorf("lead minutes must not be negative, got %d", c.LeadMinutes)
	}
	if c.UpdateCheckHour < -1 || c.UpdateCheckHour > 23 {
		return fmt.Errorf("update check hour must be between -1 and 23, got %d", c.UpdateCheckHour)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile interval must not be negative, got %s", c.ReconcileInterval)
	}
	for _, d := range c.SurfacedDays {
		if d < 0 {
			return fmt.Errorf("surfaced days must not be negative, got %d", d)
		}
	}

	switch c.ReminderStore {
	case StoreFile:
		if c.ReminderFile == "" {
			return errors.New("reminder file is required for the file store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("redis url is required for the redis store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown reminder store %q", c.ReminderStore)
	}
	return nil
}

// Location resolves the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParseDays parses a comma-separated list of day offsets such as "0,1".
func ParseDays(s string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parsing day offset %q: %w", part, err)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, errors.New("no day offsets given")
	}
	return days, nil
}
