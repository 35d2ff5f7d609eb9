// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/holiday-engine/generic"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	Database DatabaseConfig
	CORS     CORSConfig
	Log      LogConfig
	Leave    LeaveConfig
	Ledger   LedgerConfig
	Import   ImportConfig
	Rollover RolloverConfig
}

type DatabaseConfig struct {
	Path string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LeaveConfig holds the site-level leave rules.
type LeaveConfig struct {
	YearStartMonth    time.Month
	EffectiveDayHours decimal.Decimal
	DefaultSiteID     string
	// RolloverMaxCarry caps carry-over at rollover. Nil means no cap.
	RolloverMaxCarry *decimal.Decimal
	// MaxRequestDays is the longest range one booking may cover.
	MaxRequestDays int
}

// LedgerConfig tunes optimistic-concurrency retries.
type LedgerConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

type ImportConfig struct {
	Workers int
}

// RolloverConfig drives the automatic year-end rollover.
type RolloverConfig struct {
	Enabled       bool
	CheckInterval time.Duration
}

// Calendar returns the leave-year calendar for the configured start month.
func (c LeaveConfig) Calendar() generic.YearCalendar {
	return generic.YearCalendar{StartMonth: c.YearStartMonth}
}

// RetryPolicy returns the ledger retry policy.
func (c LedgerConfig) RetryPolicy() generic.RetryPolicy {
	return generic.RetryPolicy{Attempts: c.RetryAttempts, Backoff: c.RetryBackoff}
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{Path: v.GetString("DB_PATH")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	month := v.GetInt("LEAVE_YEAR_START_MONTH")
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("LEAVE_YEAR_START_MONTH must be 1-12, got %d", month)
	}

	dayHours, err := decimal.NewFromString(v.GetString("LEAVE_EFFECTIVE_DAY_HOURS"))
	if err != nil || !dayHours.IsPositive() {
		return nil, fmt.Errorf("LEAVE_EFFECTIVE_DAY_HOURS must be a positive number, got %q", v.GetString("LEAVE_EFFECTIVE_DAY_HOURS"))
	}

	var maxCarry *decimal.Decimal
	if raw := strings.TrimSpace(v.GetString("ROLLOVER_MAX_CARRY")); raw != "" {
		c, err := decimal.NewFromString(raw)
		if err != nil || c.IsNegative() {
			return nil, fmt.Errorf("ROLLOVER_MAX_CARRY must be a non-negative number, got %q", raw)
		}
		maxCarry = &c
	}

	maxDays := v.GetInt("LEAVE_MAX_REQUEST_DAYS")
	if maxDays < 1 {
		return nil, fmt.Errorf("LEAVE_MAX_REQUEST_DAYS must be at least 1, got %d", maxDays)
	}

	cfg.Leave = LeaveConfig{
		YearStartMonth:    time.Month(month),
		EffectiveDayHours: dayHours,
		DefaultSiteID:     v.GetString("DEFAULT_SITE_ID"),
		RolloverMaxCarry:  maxCarry,
		MaxRequestDays:    maxDays,
	}

	attempts := v.GetInt("LEDGER_RETRY_ATTEMPTS")
	if attempts < 1 {
		attempts = 1
	}
	cfg.Ledger = LedgerConfig{
		RetryAttempts: attempts,
		RetryBackoff:  parseDuration(v.GetString("LEDGER_RETRY_BACKOFF"), 25*time.Millisecond),
	}

	workers := v.GetInt("IMPORT_WORKERS")
	if workers < 1 {
		workers = 1
	}
	cfg.Import = ImportConfig{Workers: workers}

	cfg.Rollover = RolloverConfig{
		Enabled:       v.GetBool("ROLLOVER_SCHEDULE_ENABLED"),
		CheckInterval: parseDuration(v.GetString("ROLLOVER_CHECK_INTERVAL"), time.Hour),
	}
	if cfg.Rollover.CheckInterval <= 0 {
		cfg.Rollover.CheckInterval = time.Hour
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_PATH", "./data/holiday.db")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEAVE_YEAR_START_MONTH", 1)
	v.SetDefault("LEAVE_EFFECTIVE_DAY_HOURS", "7.5")
	v.SetDefault("DEFAULT_SITE_ID", "default")
	v.SetDefault("ROLLOVER_MAX_CARRY", "")
	v.SetDefault("LEAVE_MAX_REQUEST_DAYS", 366)

	v.SetDefault("LEDGER_RETRY_ATTEMPTS", 3)
	v.SetDefault("LEDGER_RETRY_BACKOFF", "25ms")

	v.SetDefault("IMPORT_WORKERS", 4)

	v.SetDefault("ROLLOVER_SCHEDULE_ENABLED", true)
	v.SetDefault("ROLLOVER_CHECK_INTERVAL", "1h")
}

// viper reports a missing explicit config file as a plain fs error
// rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
