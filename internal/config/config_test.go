package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// --- Default ---

func TestDefault_ShouldPointAtClaudeProjectsAndScanBackend(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	t.Setenv("XDG_DATA_HOME", "")

	c := Default()
	assert.Equal(t, "/home/alice/.claude/projects", c.ProjectsDir)
	assert.Equal(t, "/home/alice/.local/share/recall", c.DataDir)
	assert.Equal(t, BackendScan, c.Backend)
	assert.Equal(t, 10*time.Second, c.QueryTimeout)
	assert.Positive(t, c.Workers)
	require.NoError(t, c.Validate())
}

func TestDefault_WhenXDGDataHomeSet_ShouldUseIt(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, "/data/recall", Default().DataDir)
}

func TestDBPath_ShouldLiveUnderDataDir(t *testing.T) {
	c := Config{DataDir: "/tmp/recall"}
	assert.Equal(t, "/tmp/recall/sessions.duckdb", c.DBPath())
}

// --- Validate ---

func TestValidate_WhenBackendUnknown_ShouldFail(t *testing.T) {
	c := Default()
	c.Backend = "sqlite"
	assert.ErrorContains(t, c.Validate(), "unknown backend")
}

func TestValidate_WhenPostgresWithoutDSN_ShouldFail(t *testing.T) {
	c := Default()
	c.Backend = BackendPostgres
	assert.ErrorContains(t, c.Validate(), "postgres_dsn")
}

func TestValidate_WhenTimeoutNegative_ShouldFail(t *testing.T) {
	c := Default()
	c.QueryTimeout = -time.Second
	assert.ErrorContains(t, c.Validate(), "query_timeout")
}

// --- Load ---

func TestLoad_WhenFileMissing_ShouldReturnDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendScan, cfg.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_WhenFileSetsValues_ShouldApplyThem(t *testing.T) {
	path := writeConfig(t, `
projects_dir: /srv/claude/projects
data_dir: /srv/recall
backend: duckdb
query_timeout: 3s
workers: 2
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/claude/projects", cfg.ProjectsDir)
	assert.Equal(t, "/srv/recall", cfg.DataDir)
	assert.Equal(t, BackendDuckDB, cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_WhenEnvSet_ShouldOverrideFile(t *testing.T) {
	path := writeConfig(t, "backend: duckdb\nlog:\n  level: info\n")
	t.Setenv("RECALL_BACKEND", "postgres")
	t.Setenv("RECALL_POSTGRES_DSN", "postgres://localhost/recall")
	t.Setenv("RECALL_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/recall", cfg.PostgresDSN)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_WhenFileInvalid_ShouldFailValidation(t *testing.T) {
	path := writeConfig(t, "backend: mongo\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "config validation failed")
}

// --- envKey ---

func TestEnvKey_ShouldMapPrefixedNames(t *testing.T) {
	assert.Equal(t, "query_timeout", envKey("RECALL_QUERY_TIMEOUT"))
	assert.Equal(t, "log.format", envKey("RECALL_LOG_FORMAT"))
	assert.Equal(t, "projects_dir", envKey("RECALL_PROJECTS_DIR"))
}
