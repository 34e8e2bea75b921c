// Package config provides configuration management for strand.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultListenAddr, cfg.ListenAddr)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(4, cfg.MaxConns)
	s.Equal(DefaultModel, cfg.Provider.Model)
	s.Equal(time.Hour, cfg.Memory.TTL)
	s.Equal(10, cfg.Memory.MaxExchanges)
	s.Equal(5, cfg.Memory.ClassifyExchanges)
	s.Equal(3000, cfg.Memory.TokenBudget)
	s.Equal(2*time.Minute, cfg.GenerationTimeout)
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	dir := DataDir()
	s.Equal(filepath.Join(s.tempDir, ".strand"), dir)
}

// TestLoadMissingFile tests that a missing config file yields defaults.
func (s *ConfigSuite) TestLoadMissingFile() {
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default().ListenAddr, cfg.ListenAddr)
}

// TestLoadPartialFile tests that unset fields fall back to defaults.
func (s *ConfigSuite) TestLoadPartialFile() {
	s.Require().NoError(EnsureAll())
	s.Require().NoError(os.WriteFile(ConfigPath(), []byte("listen_addr: \"0.0.0.0:9000\"\n"), 0o644))

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("0.0.0.0:9000", cfg.ListenAddr)
	s.Equal(DefaultMaxConns, cfg.MaxConns)
	s.Equal(DefaultMemoryTTL, cfg.Memory.TTL)
}

// TestEnvOverrides tests STRAND_* environment variable precedence.
func (s *ConfigSuite) TestEnvOverrides() {
	os.Setenv("STRAND_PROVIDER_API_KEY", "sk-test")
	os.Setenv("STRAND_LISTEN_ADDR", "127.0.0.1:7999")
	defer os.Unsetenv("STRAND_PROVIDER_API_KEY")
	defer os.Unsetenv("STRAND_LISTEN_ADDR")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("sk-test", cfg.Provider.APIKey)
	s.Equal("127.0.0.1:7999", cfg.ListenAddr)
}

// TestValidate tests driver validation.
func (s *ConfigSuite) TestValidate() {
	cfg := Default()
	cfg.DBDriver = "postgres"
	cfg.PostgresDSN = ""
	s.Error(cfg.Validate())

	cfg.PostgresDSN = "host=localhost user=strand dbname=strand"
	s.NoError(cfg.Validate())

	cfg.DBDriver = "mysql"
	s.Error(cfg.Validate())
}

// TestSaveRoundTrip tests Save followed by Load.
func (s *ConfigSuite) TestSaveRoundTrip() {
	cfg := Default()
	cfg.ListenAddr = "127.0.0.1:7777"
	s.Require().NoError(cfg.Save())

	loaded, err := Load()
	s.Require().NoError(err)
	s.Equal("127.0.0.1:7777", loaded.ListenAddr)
}
