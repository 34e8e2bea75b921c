// Package config provides configuration management for strand.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListenAddr        = "127.0.0.1:7180"
	DefaultDBDriver          = "sqlite"
	DefaultMaxConns          = 4
	DefaultMemoryTTL         = time.Hour
	DefaultMaxEntries        = 1024
	DefaultMaxExchanges      = 10
	DefaultClassifyExchanges = 5
	DefaultTokenBudget       = 3000
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultProviderTimeout   = 120 * time.Second
	DefaultModel             = "gpt-4o-mini"
)

// ProviderConfig configures the inference provider client.
type ProviderConfig struct {
	APIBase         string        `yaml:"api_base"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	ClassifierModel string        `yaml:"classifier_model"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// MemoryConfig configures the session memory cache.
type MemoryConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	MaxEntries        int           `yaml:"max_entries"`
	MaxExchanges      int           `yaml:"max_exchanges"`
	ClassifyExchanges int           `yaml:"classify_exchanges"`
	TokenBudget       int           `yaml:"token_budget"`
}

// Config is the top-level strand configuration.
type Config struct {
	ListenAddr        string         `yaml:"listen_addr"`
	DBDriver          string         `yaml:"db_driver"` // "sqlite" or "postgres"
	DBPath            string         `yaml:"db_path"`
	PostgresDSN       string         `yaml:"postgres_dsn"`
	MaxConns          int            `yaml:"max_conns"`
	APIKeyHashes      []string       `yaml:"api_key_hashes"` // bcrypt hashes of gateway keys
	GenerationTimeout time.Duration  `yaml:"generation_timeout"`
	Provider          ProviderConfig `yaml:"provider"`
	Memory            MemoryConfig   `yaml:"memory"`
}

// DataDir returns the strand data directory (~/.strand).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strand"
	}
	return filepath.Join(home, ".strand")
}

// ConfigPath returns the path to the YAML config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "strand.db")
}

// EnsureAll creates the data directory if missing.
func EnsureAll() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:        DefaultListenAddr,
		DBDriver:          DefaultDBDriver,
		DBPath:            DefaultDBPath(),
		MaxConns:          DefaultMaxConns,
		GenerationTimeout: DefaultGenerationTimeout,
		Provider: ProviderConfig{
			Model:          DefaultModel,
			RequestTimeout: DefaultProviderTimeout,
		},
		Memory: MemoryConfig{
			TTL:               DefaultMemoryTTL,
			MaxEntries:        DefaultMaxEntries,
			MaxExchanges:      DefaultMaxExchanges,
			ClassifyExchanges: DefaultClassifyExchanges,
			TokenBudget:       DefaultTokenBudget,
		},
	}
}

// Load reads the config file, fills in defaults for unset fields, and applies
// environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies STRAND_* environment variables over file values.
// The provider API key in particular should come from the environment rather
// than the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRAND_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STRAND_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STRAND_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
		cfg.DBDriver = "postgres"
	}
	if v := os.Getenv("STRAND_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("STRAND_PROVIDER_API_BASE"); v != "" {
		cfg.Provider.APIBase = v
	}
}

// fillDefaults repairs zero values left by partial config files.
func fillDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = DefaultDBDriver
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.ClassifierModel == "" {
		cfg.Provider.ClassifierModel = cfg.Provider.Model
	}
	if cfg.Provider.RequestTimeout <= 0 {
		cfg.Provider.RequestTimeout = DefaultProviderTimeout
	}
	if cfg.Memory.TTL <= 0 {
		cfg.Memory.TTL = DefaultMemoryTTL
	}
	if cfg.Memory.MaxEntries <= 0 {
		cfg.Memory.MaxEntries = DefaultMaxEntries
	}
	if cfg.Memory.MaxExchanges <= 0 {
		cfg.Memory.MaxExchanges = DefaultMaxExchanges
	}
	if cfg.Memory.ClassifyExchanges <= 0 {
		cfg.Memory.ClassifyExchanges = DefaultClassifyExchanges
	}
	if cfg.Memory.TokenBudget <= 0 {
		cfg.Memory.TokenBudget = DefaultTokenBudget
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("db_path is required for the sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db_driver %q", c.DBDriver)
	}
	return nil
}

// Save writes the config back to the config file.
func (c *Config) Save() error {
	if err := EnsureAll(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}
