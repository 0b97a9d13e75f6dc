// Package config defines the YAML configuration shape for a daemon
// embedding the tree engine: which storage backend to open, where, and
// at what key height. The daemon itself (JSON-RPC service, block
// ingestion) is out of scope; this package gives that collaborator's
// configuration surface a concrete home.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend names a patricia.Storage implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendDynamoDB Backend = "dynamodb"
)

// Config is a daemon's on-disk configuration.
type Config struct {
	// Backend selects which patricia.Storage implementation to open.
	Backend Backend `yaml:"backend"`

	// SQLite holds settings used when Backend is "sqlite".
	SQLite SQLiteConfig `yaml:"sqlite"`

	// DynamoDB holds settings used when Backend is "dynamodb".
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// GlobalTreeHeight is the key width of the top-level (contract
	// address keyed) state tree. StarkNet fixes this at 251
	// (felt.Bits); it is configurable here only so tests can exercise
	// smaller trees without touching the constant itself.
	GlobalTreeHeight int `yaml:"global_tree_height"`

	// MetricsAddr, if non-empty, is the address internal/metrics.Handler
	// is served on.
	MetricsAddr string `yaml:"metrics_addr"`
}

// SQLiteConfig configures the patricia/sqlitestore backend.
type SQLiteConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// DynamoDBConfig configures the patricia/dynamostore backend.
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// defaults are the values Load starts from before applying a config
// file; any field the file doesn't set keeps its default.
func defaults() Config {
	return Config{
		Backend:          BackendSQLite,
		SQLite:           SQLiteConfig{Path: "strie.db", PoolSize: 4},
		GlobalTreeHeight: 251,
	}
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that c names a supported backend and a positive tree
// height, and that the backend-specific section it selects is usable.
func (c *Config) Validate() error {
	if c.GlobalTreeHeight <= 0 || c.GlobalTreeHeight > 251 {
		return fmt.Errorf("global_tree_height must be in (0, 251], got %d", c.GlobalTreeHeight)
	}
	switch c.Backend {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required when backend is %q", BackendSQLite)
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb.table is required when backend is %q", BackendDynamoDB)
		}
	default:
		return fmt.Errorf("unknown backend %q, want %q or %q", c.Backend, BackendSQLite, BackendDynamoDB)
	}
	return nil
}
