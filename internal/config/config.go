// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/meridian/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir string // Directory holding the SQLite stores, resolved from DATABASE_URL (always absolute)

	LogLevel string
	Port     int
	DevMode  bool // Permits stub provider fallbacks and explicit gate overrides

	// Pricing policy
	PricingPolicy string   // Policy tag stamped on every pack, e.g. "eod-usd-1600"
	BaseCurrency  string   // Base currency for valuation and attribution
	FXPairs       []string // Currency pairs the policy requires, "EUR/USD" form

	// Macro series synced nightly; also the vocabulary macro alert
	// conditions validate against.
	MacroSeries    []string
	RiskFreeSeries string // Series quoted as the Sharpe risk-free rate

	// Plain-text ledger snapshot that every pack reconciles against
	LedgerPath string

	// Provider credentials (optional; absence falls back to the secondary
	// provider or, in dev mode, to stubs)
	PolygonAPIKey      string
	FREDAPIKey         string
	AlphaVantageAPIKey string

	// Schedules (cron expressions with seconds field)
	NightlySchedule           string
	MacroSyncSchedule         string // Must fire before NightlySchedule
	SentimentSyncSchedule     string // Must fire before NightlySchedule
	ReplaySchedule            string
	MaintenanceSchedule       string
	WeeklyMaintenanceSchedule string
	BackupSchedule            string

	SMTP   SMTPConfig
	Backup BackupConfig
}

// SMTPConfig holds mail delivery settings. An empty Host disables email.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   string // Alert recipient; defaults to From
}

// Enabled reports whether email delivery is configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

// Recipient returns the alert delivery address.
func (s SMTPConfig) Recipient() string {
	if s.To != "" {
		return s.To
	}
	return s.From
}

// BackupConfig holds S3-compatible backup settings. An empty Bucket disables
// cloud backups.
type BackupConfig struct {
	Bucket        string
	Endpoint      string // Custom endpoint for S3-compatible stores (R2, MinIO); empty = AWS
	Region        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Enabled reports whether cloud backups are configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// DATABASE_URL names the data directory holding the SQLite stores.
	// A file: prefix is accepted and stripped.
	// 1. Resolve to absolute path
	// 2. Ensure directory exists
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	dataDir := strings.TrimPrefix(databaseURL, "file:")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fxPairs := utils.ParseCSV(getEnv("FX_PAIRS", "EUR/USD,GBP/USD,JPY/USD,CHF/USD"))
	macroSeries := utils.ParseCSV(getEnv("MACRO_SERIES", "DGS3MO,DGS10,CPIAUCSL,UNRATE"))

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8080),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PricingPolicy:   getEnv("PRICING_POLICY", "eod-usd-1600"),
		BaseCurrency:    getEnv("BASE_CURRENCY", "USD"),
		FXPairs:         fxPairs,
		MacroSeries:     macroSeries,
		RiskFreeSeries:  getEnv("RISK_FREE_SERIES", "DGS3MO"),
		LedgerPath:      getEnv("LEDGER_PATH", filepath.Join(absDataDir, "book.ledger")),

		PolygonAPIKey:      getEnv("POLYGON_API_KEY", ""),
		FREDAPIKey:         getEnv("FRED_API_KEY", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),

		NightlySchedule:           getEnv("NIGHTLY_SCHEDULE", "0 30 2 * * *"),
		MacroSyncSchedule:         getEnv("MACRO_SYNC_SCHEDULE", "0 0 2 * * *"),
		SentimentSyncSchedule:     getEnv("SENTIMENT_SYNC_SCHEDULE", "0 15 2 * * *"),
		ReplaySchedule:            getEnv("REPLAY_SCHEDULE", "0 0 * * * *"),
		MaintenanceSchedule:       getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * *"),
		WeeklyMaintenanceSchedule: getEnv("WEEKLY_MAINTENANCE_SCHEDULE", "0 0 5 * * SUN"),
		BackupSchedule:            getEnv("BACKUP_SCHEDULE", "0 30 4 * * *"),
		SMTP: SMTPConfig{
			Host: getEnv("SMTP_HOST", ""),
			Port: getEnvAsInt("SMTP_PORT", 587),
			User: getEnv("SMTP_USER", ""),
			Pass: getEnv("SMTP_PASS", ""),
			From: getEnv("SMTP_FROM", ""),
			To:   getEnv("SMTP_TO", ""),
		},
		Backup: BackupConfig{
			Bucket:        getEnv("BACKUP_BUCKET", ""),
			Endpoint:      getEnv("BACKUP_ENDPOINT", ""),
			Region:        getEnv("BACKUP_REGION", "auto"),
			AccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}

	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("invalid base currency %q", c.BaseCurrency)
	}

	for _, pair := range c.FXPairs {
		parts := strings.Split(pair, "/")
		if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
			return fmt.Errorf("invalid FX pair %q (expected BASE/QUOTE)", pair)
		}
	}

	rfKnown := false
	for _, s := range c.MacroSeries {
		if s == c.RiskFreeSeries {
			rfKnown = true
			break
		}
	}
	if !rfKnown {
		return fmt.Errorf("risk-free series %q is not in MACRO_SERIES", c.RiskFreeSeries)
	}

	if c.Backup.Enabled() && (c.Backup.AccessKey == "" || c.Backup.SecretKey == "") {
		return fmt.Errorf("backup bucket configured without credentials")
	}

	// Provider keys are optional: missing keys fall back to the secondary
	// provider, or to stubs when DevMode is set.

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
