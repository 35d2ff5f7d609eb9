package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.January, cfg.Leave.YearStartMonth)
	assert.Equal(t, "7.5", cfg.Leave.EffectiveDayHours.String())
	assert.Nil(t, cfg.Leave.RolloverMaxCarry)
	assert.Equal(t, 366, cfg.Leave.MaxRequestDays)
	assert.Equal(t, 3, cfg.Ledger.RetryAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Ledger.RetryBackoff)
	assert.Equal(t, 4, cfg.Import.Workers)
	assert.Empty(t, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Rollover.Enabled)
	assert.Equal(t, time.Hour, cfg.Rollover.CheckInterval)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", EnvProduction)
	t.Setenv("LEAVE_YEAR_START_MONTH", "4")
	t.Setenv("LEAVE_EFFECTIVE_DAY_HOURS", "8")
	t.Setenv("ROLLOVER_MAX_CARRY", "37.5")
	t.Setenv("LEDGER_RETRY_BACKOFF", "5ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ROLLOVER_SCHEDULE_ENABLED", "false")
	t.Setenv("ROLLOVER_CHECK_INTERVAL", "10m")
	t.Setenv("LEAVE_MAX_REQUEST_DAYS", "31")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, time.April, cfg.Leave.Calendar().StartMonth)
	assert.Equal(t, "8", cfg.Leave.EffectiveDayHours.String())
	require.NotNil(t, cfg.Leave.RolloverMaxCarry)
	assert.Equal(t, "37.5", cfg.Leave.RolloverMaxCarry.String())
	assert.Equal(t, 5*time.Millisecond, cfg.Ledger.RetryPolicy().Backoff)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.Rollover.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Rollover.CheckInterval)
	assert.Equal(t, 31, cfg.Leave.MaxRequestDays)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_PATH=/tmp/leave.db\nIMPORT_WORKERS=9\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/leave.db", cfg.Database.Path)
	assert.Equal(t, 9, cfg.Import.Workers)
}

func TestLoad_RejectsBadLeaveSettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"LEAVE_YEAR_START_MONTH", "13"},
		{"LEAVE_EFFECTIVE_DAY_HOURS", "0"},
		{"LEAVE_EFFECTIVE_DAY_HOURS", "seven"},
		{"ROLLOVER_MAX_CARRY", "-1"},
		{"LEAVE_MAX_REQUEST_DAYS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
