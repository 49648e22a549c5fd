package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONFIG_FILE", "TELEGRAM_TOKEN", "DATABASE_URL", "HTTP_ADDR", "TIMEZONE",
		"HORIZON_DAYS", "WORKSPACE", "RECONCILE_AT", "REPORT_INTERVAL_HOURS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "taskplanner.db", cfg.DatabaseURL)
	assert.Equal(t, 90, cfg.HorizonDays)
	assert.Equal(t, "life", cfg.Workspace)
	assert.Equal(t, "00:05", cfg.ReconcileAt)
	assert.Equal(t, 5*time.Hour, cfg.ReportInterval)
	assert.Equal(t, time.Local, cfg.Location)
}

func TestLoadRequiresBotOrAPI(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram_token: from-file
database_url: /var/lib/planner.db
timezone: Europe/Moscow
horizon_days: 30
report_interval_hours: 12
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HORIZON_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.TelegramToken)
	assert.Equal(t, "/var/lib/planner.db", cfg.DatabaseURL)
	assert.Equal(t, 14, cfg.HorizonDays)
	assert.Equal(t, 12*time.Hour, cfg.ReportInterval)
	assert.Equal(t, "Europe/Moscow", cfg.Location.String())
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":8080")

	t.Setenv("HORIZON_DAYS", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("HORIZON_DAYS", "")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err = Load()
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	assert.Equal(t, 3*time.Hour, parseInterval("3"))
	assert.Zero(t, parseInterval(""))
	assert.Zero(t, parseInterval("-1"))
	assert.Zero(t, parseInterval("abc"))
}
