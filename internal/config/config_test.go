package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	fs.Int("port", 0, "")
	fs.String("http-addr", "", "")
	fs.Bool("debug", false, "")
	fs.Duration("idle-timeout", 0, "")
	fs.String("db", "", "")
	fs.Int("max-sessions", 0, "")
	fs.Int("workers", 0, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file was not written")

	// The written file loads back to the same values.
	again, _, err := Load(nil, path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "addr: \":7000\"\nmax_sessions: 3\nidle_timeout: 1m\nlog_level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RELAYCHAT_MAX_SESSIONS", "7")
	t.Setenv("RELAYCHAT_DATABASE_PATH", "/tmp/env.db")

	cfg, _, err := Load(nil, path, testFlags(t, "--db", "flag.db", "--idle-timeout", "2m"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr, "file")
	assert.Equal(t, "warn", cfg.LogLevel, "file")
	assert.Equal(t, 7, cfg.MaxSessions, "env beats file")
	assert.Equal(t, "flag.db", cfg.DatabasePath, "flag beats env")
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout, "flag beats file")
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout, "default")
}

func TestLoadShorthandFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, _, err := Load(nil, path, testFlags(t, "--port", "9000", "--debug"))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)

	cfg, _, err = Load(nil, path, testFlags(t, "--port", "9000", "--addr", "127.0.0.1:9100"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))

	_, _, err := Load(nil, path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"idle disabled", func(c *Config) { c.IdleTimeout = 0 }, false},
		{"empty addr", func(c *Config) { c.Addr = "" }, true},
		{"negative sessions", func(c *Config) { c.MaxSessions = -1 }, true},
		{"negative idle", func(c *Config) { c.IdleTimeout = -time.Second }, true},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, true},
		{"unknown level", func(c *Config) { c.LogLevel = "trace" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
