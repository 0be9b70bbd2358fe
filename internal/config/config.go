package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Store drivers.
const (
	StoreMongoDB = "mongodb"
	StoreMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	MongoDB    MongoDBConfig
	Auth       AuthConfig
	Classifier ClassifierConfig
	Sheets     SheetsConfig
	Reconcile  ReconcileConfig
	Telemetry  TelemetryConfig
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port           string        `env:"APP_PORT" envDefault:"8080"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// StoreConfig selects the record store implementation.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"mongodb"`
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI     string        `env:"MONGODB_URI"`
	DBName  string        `env:"MONGODB_DB_NAME" envDefault:"flockhealth"`
	Timeout time.Duration `env:"MONGODB_TIMEOUT" envDefault:"10s"`
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`
}

// ClassifierConfig points at the external diagnosis classifier.
type ClassifierConfig struct {
	BaseURL string        `env:"CLASSIFIER_BASE_URL"`
	APIKey  string        `env:"CLASSIFIER_API_KEY"`
	Timeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether diagnosis ingestion can reach the classifier.
func (c ClassifierConfig) Enabled() bool {
	return c.BaseURL != ""
}

// SheetsConfig contains configuration required to export costs to Google Sheets.
type SheetsConfig struct {
	CredentialsPath string `env:"GOOGLE_SHEETS_CREDENTIALS_PATH"`
	SpreadsheetID   string `env:"GOOGLE_SHEET_DATABASE_ID"`
}

// Enabled reports whether the cost export is configured.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// ReconcileConfig holds scheduler-related settings for the reconciliation pass.
type ReconcileConfig struct {
	CronSchedule string `env:"RECONCILE_CRON_SCHEDULE"`
	DryRun       bool   `env:"RECONCILE_DRY_RUN" envDefault:"true"`
	Timezone     string `env:"TIMEZONE" envDefault:"Africa/Conakry"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"flockhealth"`
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}

	switch c.Store.Driver {
	case StoreMongoDB:
		if c.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided")
		}
		if c.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must not be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreMongoDB, StoreMemory)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be provided")
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID must be provided together")
	}

	if c.Reconcile.CronSchedule != "" {
		if _, err := cron.ParseStandard(c.Reconcile.CronSchedule); err != nil {
			return fmt.Errorf("RECONCILE_CRON_SCHEDULE is invalid: %w", err)
		}
		if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil {
			return fmt.Errorf("TIMEZONE is invalid: %w", err)
		}
	}

	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return errors.New("OTEL_ENDPOINT must be provided when OTEL_ENABLED is set")
	}

	return nil
}
