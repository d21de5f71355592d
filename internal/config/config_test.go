package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Riga", loc.String())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TIMEZONE", "Europe/Tallinn")
	t.Setenv("LEAD_MINUTES", "15")
	t.Setenv("SURFACED_DAYS", "0, 1, 2")
	t.Setenv("REMINDER_STORE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("UPDATE_CHECK_HOUR", "-1")
	t.Setenv("EXACT_ALARMS_ALLOWED", "false")
	t.Setenv("INSTALL_ALLOWED", "TRUE")
	t.Setenv("MANIFEST_URL", "")
	t.Setenv("RECONCILE_INTERVAL", "30s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Europe/Tallinn", cfg.Timezone)
	assert.Equal(t, 15, cfg.LeadMinutes)
	assert.Equal(t, []int{0, 1, 2}, cfg.SurfacedDays)
	assert.Equal(t, StoreRedis, cfg.ReminderStore)
	assert.Equal(t, -1, cfg.UpdateCheckHour)
	assert.True(t, cfg.NotificationsAllowed)
	assert.False(t, cfg.ExactAlarmsAllowed)
	assert.True(t, cfg.InstallAllowed)
	assert.Empty(t, cfg.ManifestURL)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("LEAD_MINUTES", "soon")
	t.Setenv("UPDATE_CHECK_HOUR", "25")
	t.Setenv("SURFACED_DAYS", "today")
	t.Setenv("RECONCILE_INTERVAL", "-5s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, 10, cfg.LeadMinutes)
	assert.Equal(t, 9, cfg.UpdateCheckHour)
	assert.Equal(t, []int{0, 1}, cfg.SurfacedDays)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "unknown timezone", modify: func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{name: "negative lead", modify: func(c *Config) { c.LeadMinutes = -5 }},
		{name: "update hour out of range", modify: func(c *Config) { c.UpdateCheckHour = 24 }},
		{name: "negative reconcile interval", modify: func(c *Config) { c.ReconcileInterval = -time.Second }},
		{name: "negative day", modify: func(c *Config) { c.SurfacedDays = []int{-1} }},
		{name: "unknown store", modify: func(c *Config) { c.ReminderStore = "sqlite" }},
		{name: "redis without url", modify: func(c *Config) { c.ReminderStore = StoreRedis }},
		{name: "postgres without dsn", modify: func(c *Config) { c.ReminderStore = StorePostgres }},
		{name: "file without path", modify: func(c *Config) { c.ReminderFile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NORDPRICES_TEST_LEAD=42\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("NORDPRICES_TEST_LEAD") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "42", os.Getenv("NORDPRICES_TEST_LEAD"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestParseDays(t *testing.T) {
	days, err := ParseDays("1,0")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, days)

	_, err = ParseDays(" , ")
	assert.Error(t, err)
}
