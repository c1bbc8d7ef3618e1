// Package config resolves paths and settings for the session index.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"recall/internal/logging"
)

// Backend names accepted in Config.Backend.
const (
	BackendScan     = "scan"
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
)

// Config holds paths and backend settings.
type Config struct {
	// ProjectsDir is the root of the Claude Code transcript tree.
	ProjectsDir string `koanf:"projects_dir"`
	// DataDir holds the embedded index.
	DataDir string `koanf:"data_dir"`

	Backend      string        `koanf:"backend"`
	PostgresDSN  string        `koanf:"postgres_dsn"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
	Workers      int           `koanf:"workers"`

	Log logging.Config `koanf:"log"`
}

// Default returns a Config rooted at ~/.claude/projects with the index
// under $XDG_DATA_HOME/recall.
func Default() Config {
	home, _ := os.UserHomeDir()
	cfg := Config{
		ProjectsDir: filepath.Join(home, ".claude", "projects"),
		DataDir:     defaultDataDir(home),
	}
	applyDefaults(&cfg)
	return cfg
}

func defaultDataDir(home string) string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "recall")
}

// DBPath returns the DuckDB database file path.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "sessions.duckdb")
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Backend == "" {
		cfg.Backend = BackendScan
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	def := logging.NewDefaultConfig()
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Format
	}
	if cfg.ProjectsDir == "" || cfg.DataDir == "" {
		home, _ := os.UserHomeDir()
		if cfg.ProjectsDir == "" {
			cfg.ProjectsDir = filepath.Join(home, ".claude", "projects")
		}
		if cfg.DataDir == "" {
			cfg.DataDir = defaultDataDir(home)
		}
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendScan, BackendDuckDB:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q (want scan, duckdb or postgres)", c.Backend)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be > 0, got %s", c.QueryTimeout)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}
