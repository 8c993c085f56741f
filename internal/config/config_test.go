package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabase, EnvCatalog, EnvUsers, EnvWorkers, EnvMaxAttempts, EnvPoolReport} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.RetryPolicy().MaxAttempts)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "laurels.yaml", `
database: /var/lib/laurels.db
catalog: ./catalog.cue
workers: 8
retry:
  max_attempts: 3
  initial_interval: 10ms
  max_interval: 1s
pool_report: "*/5 * * * *"
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/laurels.db", cfg.Database)
	assert.Equal(t, "./catalog.cue", cfg.Catalog)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "*/5 * * * *", cfg.PoolReport)

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, p.InitialInterval)
	assert.Equal(t, time.Second, p.MaxInterval)
}

func TestLoad_UnknownField(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "laurels.yaml", "databse: typo.db\n")

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "laurels.yaml", "database: file.db\nworkers: 2\n")
	t.Setenv(EnvDatabase, "env.db")
	t.Setenv(EnvWorkers, "6")
	t.Setenv(EnvPoolReport, "")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Database)
	assert.Equal(t, 6, cfg.Workers)
	assert.Empty(t, cfg.PoolReport, "an empty schedule disables the report")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "LAURELS_MAX_ATTEMPTS=7\nLAURELS_DB=dotenv.db\n")
	t.Setenv(EnvDatabase, "process.db")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, "process.db", cfg.Database, "process environment wins over the env file")
}

func TestLoad_BadEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvWorkers, "many")

	_, err := Load("", "")
	assert.ErrorContains(t, err, EnvWorkers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no database", func(c *Config) { c.Database = "" }, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, false},
		{"inverted intervals", func(c *Config) { c.Retry.InitialInterval = time.Minute }, false},
		{"bad cron", func(c *Config) { c.PoolReport = "every minute" }, false},
		{"cron descriptor", func(c *Config) { c.PoolReport = "@hourly" }, true},
		{"report disabled", func(c *Config) { c.PoolReport = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
