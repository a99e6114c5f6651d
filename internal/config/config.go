// Package config loads application configuration from an optional YAML file
// and environment variables, with the environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jcnich/App-UAT-Tool/internal/domain/model"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	DBPath           string `yaml:"db_path"`
	CompletionPolicy string `yaml:"completion_policy"`
}

// Policy returns the configured completion policy as its domain type.
// Load guarantees the value is valid.
func (c *Config) Policy() model.CompletionPolicy {
	return model.CompletionPolicy(c.CompletionPolicy)
}

// Load builds the configuration in three layers: defaults, then the YAML file
// named by UATTOOL_CONFIG (if set, the file must exist and parse), then the
// UATTOOL_LISTEN_ADDR, UATTOOL_DB_PATH, and UATTOOL_COMPLETION_POLICY
// environment variables. Defaults: 127.0.0.1:8080, uattool.db, strict.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       "127.0.0.1:8080",
		DBPath:           "uattool.db",
		CompletionPolicy: string(model.PolicyStrict),
	}

	if path, ok := os.LookupEnv("UATTOOL_CONFIG"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("UATTOOL_CONFIG points at missing file %q", path)
			}
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv("UATTOOL_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("UATTOOL_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("UATTOOL_COMPLETION_POLICY"); ok {
		cfg.CompletionPolicy = v
	}

	if !model.IsValidCompletionPolicy(model.CompletionPolicy(cfg.CompletionPolicy)) {
		return nil, fmt.Errorf("completion policy %q is not valid (want %q or %q)",
			cfg.CompletionPolicy, model.PolicyStrict, model.PolicyImplicitNA)
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address must not be empty")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}

	return cfg, nil
}
