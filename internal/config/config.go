package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Redis    RedisConfig    `yaml:"redis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Reports  ReportsConfig  `yaml:"reports"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	MongoDatabase string `yaml:"mongo_database"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig enables the cross-process commit lock when URL is set.
type RedisConfig struct {
	URL       string `yaml:"url"`
	LockTTLMs int    `yaml:"lock_ttl_ms"`
}

// CatalogConfig points at the upstream questionnaire service. Questions are
// pulled once at startup when URL is set.
type CatalogConfig struct {
	URL             string `yaml:"url"`
	QuestionnaireID string `yaml:"questionnaire_id"`
	Token           string `yaml:"token"`
}

type ScoringConfig struct {
	ModelVersion string `yaml:"model_version"`

	scoring.HeuristicConfig `yaml:",inline"`
}

type ReportsConfig struct {
	DraftTimeoutMs int    `yaml:"draft_timeout_ms"`
	ReapIntervalMs int    `yaml:"reap_interval_ms"`
	OutputDir      string `yaml:"output_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) DraftTimeout() time.Duration {
	return time.Duration(c.Reports.DraftTimeoutMs) * time.Millisecond
}

func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Reports.ReapIntervalMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Database: DatabaseConfig{
			Driver:        DriverPostgres,
			MongoDatabase: "zinspection",
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Redis: RedisConfig{
			LockTTLMs: 30000,
		},
		Scoring: ScoringConfig{
			ModelVersion:    "1.0.0",
			HeuristicConfig: scoring.DefaultHeuristicConfig(),
		},
		Reports: ReportsConfig{
			DraftTimeoutMs: 600000,
			ReapIntervalMs: 30000,
			OutputDir:      "reports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMongo:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if _, err := semver.StrictNewVersion(c.Scoring.ModelVersion); err != nil {
		return fmt.Errorf("scoring.model_version %q: %w", c.Scoring.ModelVersion, err)
	}
	if c.Reports.DraftTimeoutMs <= 0 || c.Reports.ReapIntervalMs <= 0 {
		return fmt.Errorf("reports timeouts must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ZI_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("ZI_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("ZI_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("ZI_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ZI_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ZI_MONGO_DATABASE"); v != "" {
		cfg.Database.MongoDatabase = v
	}
	if v := os.Getenv("ZI_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("ZI_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ZI_CATALOG_URL"); v != "" {
		cfg.Catalog.URL = v
	}
	if v := os.Getenv("ZI_CATALOG_TOKEN"); v != "" {
		cfg.Catalog.Token = v
	}
	if v := os.Getenv("ZI_MODEL_VERSION"); v != "" {
		cfg.Scoring.ModelVersion = v
	}
	if v := os.Getenv("ZI_DRAFT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reports.DraftTimeoutMs = n
		}
	}
	if v := os.Getenv("ZI_REPORTS_DIR"); v != "" {
		cfg.Reports.OutputDir = v
	}
	if v := os.Getenv("ZI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
