// Package config loads the YAML configuration file, applies environment
// overrides, fills defaults, and validates the result.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Kite      Kite      `yaml:"kite"`
	QuestDB   QuestDB   `yaml:"questdb"`
	Sync      Sync      `yaml:"sync"`
	Migration Migration `yaml:"migration"`
	Export    Export    `yaml:"export"`
	Logging   Logging   `yaml:"logging"`
}

// Storage holds paths for local persistence.
type Storage struct {
	// DataDir holds one container file per segment.
	DataDir      string `yaml:"data_dir" validate:"required"`
	RegistryPath string `yaml:"registry_path" validate:"required"`
}

// Kite holds upstream API credentials and pacing.
type Kite struct {
	BaseURL         string  `yaml:"base_url" validate:"required,url"`
	APIKey          string  `yaml:"api_key" validate:"required"`
	AccessToken     string  `yaml:"access_token" validate:"required"`
	RateLimitPerMin int     `yaml:"rate_limit_per_min" validate:"gt=0"`
	SafetyMargin    float64 `yaml:"safety_margin" validate:"gte=0,lte=1"`
}

// QuestDB holds the analytical store's endpoints.
type QuestDB struct {
	HTTPURL string `yaml:"http_url" validate:"required,url"`
	ILPAddr string `yaml:"ilp_addr" validate:"required,hostname_port"`
}

// Sync controls the fetch executor.
type Sync struct {
	MaxConcurrentSeries int `yaml:"max_concurrent_series" validate:"gte=1"`
	MaxRetries          int `yaml:"max_retries" validate:"gte=1"`
	RetryBaseDelaySec   int `yaml:"retry_base_delay_sec" validate:"gte=1"`
}

// Migration controls the local-store-to-QuestDB pipeline.
type Migration struct {
	Workers int `yaml:"workers" validate:"gte=1"`
	// BatchSize is the number of rows written between sink flushes.
	BatchSize int `yaml:"batch_size" validate:"gte=1"`
}

// Export controls the Parquet exporter.
type Export struct {
	OutDir string `yaml:"out_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Kite.BaseURL == "" {
		cfg.Kite.BaseURL = "https://api.kite.trade"
	}
	if cfg.Kite.RateLimitPerMin == 0 {
		// The historical endpoint allows 3 req/s.
		cfg.Kite.RateLimitPerMin = 180
	}
	if cfg.Kite.SafetyMargin == 0 {
		cfg.Kite.SafetyMargin = 0.9
	}
	if cfg.QuestDB.HTTPURL == "" {
		cfg.QuestDB.HTTPURL = "http://localhost:9000"
	}
	if cfg.QuestDB.ILPAddr == "" {
		cfg.QuestDB.ILPAddr = "localhost:9009"
	}
	if cfg.Sync.MaxConcurrentSeries == 0 {
		cfg.Sync.MaxConcurrentSeries = 4
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 7
	}
	if cfg.Sync.RetryBaseDelaySec == 0 {
		cfg.Sync.RetryBaseDelaySec = 2
	}
	if cfg.Migration.Workers == 0 {
		cfg.Migration.Workers = 8
	}
	if cfg.Migration.BatchSize == 0 {
		cfg.Migration.BatchSize = 25_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and
// overrides the corresponding configuration fields when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REGISTRY_PATH"); v != "" {
		cfg.Storage.RegistryPath = v
	}

	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Kite.AccessToken = v
	}
	if v := os.Getenv("KITE_BASE_URL"); v != "" {
		cfg.Kite.BaseURL = v
	}

	if v := os.Getenv("QUESTDB_HTTP_URL"); v != "" {
		cfg.QuestDB.HTTPURL = v
	}
	if v := os.Getenv("QUESTDB_ILP_ADDR"); v != "" {
		cfg.QuestDB.ILPAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
