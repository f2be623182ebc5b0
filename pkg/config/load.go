package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file
const (
	EnvStateDir  = "SITE_INGEST_STATE_DIR"
	EnvRedisAddr = "SITE_INGEST_REDIS_ADDR"
	EnvLogLevel  = "SITE_INGEST_LOG_LEVEL"
)

// Load reads and parses the YAML config at path, then applies environment overrides.
// Defaults are not applied here; call Validate on the result.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file '%s': %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file '%s': %w", path, err)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return &cfg, nil
}

// LoadDotEnv loads variables from a dotenv file into the process environment.
// Variables already set are not overwritten, and a missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file '%s': %w", path, err)
}

// ApplyEnv overrides config fields from SITE_INGEST_* environment variables
func (c *AppConfig) ApplyEnv() {
	if v := os.Getenv(EnvStateDir); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
}
