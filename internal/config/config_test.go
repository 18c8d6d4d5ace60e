package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "REGISTRY_PATH",
		"KITE_API_KEY", "KITE_ACCESS_TOKEN", "KITE_BASE_URL",
		"QUESTDB_HTTP_URL", "QUESTDB_ILP_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

const fullConfig = `
storage:
  data_dir: "/var/lib/tickvault/data"
  registry_path: "/var/lib/tickvault/instruments.db"
kite:
  api_key: "test-key"
  access_token: "test-token"
  rate_limit_per_min: 120
  safety_margin: 0.8
questdb:
  http_url: "http://questdb:9000"
  ilp_addr: "questdb:9009"
sync:
  max_concurrent_series: 6
migration:
  workers: 4
export:
  out_dir: "/var/lib/tickvault/export"
logging:
  level: "debug"
  format: "json"
`

func TestLoadFullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/var/lib/tickvault/data" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Kite.APIKey != "test-key" || cfg.Kite.AccessToken != "test-token" {
		t.Errorf("kite creds = %+v", cfg.Kite)
	}
	if cfg.Kite.RateLimitPerMin != 120 || cfg.Kite.SafetyMargin != 0.8 {
		t.Errorf("kite pacing = %+v", cfg.Kite)
	}
	if cfg.QuestDB.ILPAddr != "questdb:9009" {
		t.Errorf("ILPAddr = %q", cfg.QuestDB.ILPAddr)
	}
	if cfg.Sync.MaxConcurrentSeries != 6 {
		t.Errorf("MaxConcurrentSeries = %d", cfg.Sync.MaxConcurrentSeries)
	}
	if cfg.Migration.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Migration.Workers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, `
storage:
  data_dir: "/data"
  registry_path: "/data/instruments.db"
kite:
  api_key: "k"
  access_token: "t"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kite.BaseURL != "https://api.kite.trade" {
		t.Errorf("BaseURL = %q", cfg.Kite.BaseURL)
	}
	if cfg.Kite.RateLimitPerMin != 180 || cfg.Kite.SafetyMargin != 0.9 {
		t.Errorf("pacing defaults = %+v", cfg.Kite)
	}
	if cfg.QuestDB.HTTPURL != "http://localhost:9000" || cfg.QuestDB.ILPAddr != "localhost:9009" {
		t.Errorf("questdb defaults = %+v", cfg.QuestDB)
	}
	if cfg.Sync.MaxRetries != 7 || cfg.Sync.RetryBaseDelaySec != 2 {
		t.Errorf("retry defaults = %+v", cfg.Sync)
	}
	if cfg.Migration.Workers != 8 {
		t.Errorf("Workers = %d", cfg.Migration.Workers)
	}
	if cfg.Migration.BatchSize != 25_000 {
		t.Errorf("BatchSize = %d", cfg.Migration.BatchSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KITE_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")

	cfg, err := Load(writeConfig(t, `
storage:
  data_dir: "/yaml/data"
  registry_path: "/yaml/instruments.db"
kite:
  api_key: "yaml-key"
  access_token: "yaml-token"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kite.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env override", cfg.Kite.APIKey)
	}
	if cfg.Kite.AccessToken != "yaml-token" {
		t.Errorf("AccessToken = %q, want yaml value", cfg.Kite.AccessToken)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want env override", cfg.Storage.DataDir)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, `
storage:
  data_dir: "/data"
  registry_path: "/data/instruments.db"
`))
	if err == nil {
		t.Fatal("Load should reject a config without upstream credentials")
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, `
storage:
  data_dir: "/data"
  registry_path: "/data/instruments.db"
kite:
  api_key: "k"
  access_token: "t"
logging:
  format: "xml"
`))
	if err == nil {
		t.Fatal("Load should reject an unknown log format")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, `
storage:
  data_dir: "/data"
  registry_path: "/data/instruments.db"
kite:
  api_key: "k"
  access_token: "t"
logging:
  level: "loud"
`))
	if err == nil {
		t.Fatal("Load should reject an unknown log level")
	}
}
