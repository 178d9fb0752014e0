package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.StartTimeout)
	assert.Equal(t, int64(1<<30), cfg.MemoryBytes)
	assert.Equal(t, int64(50000), cfg.CPUQuota)
	assert.Equal(t, int64(100000), cfg.CPUPeriod)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
image: custom/sandbox:v2
start_timeout: 10s
database:
  host: db.internal
  name: trees
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "custom/sandbox:v2", cfg.Image)
	assert.Equal(t, 10*time.Second, cfg.StartTimeout)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "trees", cfg.Database.Name)
	// Untouched fields keep their defaults.
	assert.Equal(t, "5432", cfg.Database.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SANDBOX_LISTEN", ":7777")
	t.Setenv("PGHOST", "pg.example")
	t.Setenv("PGDATABASE", "sandbox_test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, "pg.example", cfg.Database.Host)
	assert.Equal(t, "sandbox_test", cfg.Database.Name)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: "5432", User: "postgres",
		Password: "secret", Name: "sandbox", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=sandbox sslmode=disable",
		d.DSN())
}
