package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Store:  StoreConfig{Backend: BackendBadger, Path: "/data"},
		Sync: SyncConfig{
			AppVersion:       "1.0.0",
			ChunkSize:        512,
			ConnectTimeout:   15 * time.Second,
			HandshakeTimeout: 15 * time.Second,
			TransferTimeout:  60 * time.Second,
			ConnectAttempts:  3,
		},
		Transport: TransportConfig{Kind: TransportAuto},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown environment", func(c *Config) { c.App.Environment = "test" }},
		{"case sensitive environment", func(c *Config) { c.App.Environment = "DEVELOPMENT" }},
		{"unknown log level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "bolt" }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "ble" }},
		{"tiny chunks", func(c *Config) { c.Sync.ChunkSize = 16 }},
		{"zero connect timeout", func(c *Config) { c.Sync.ConnectTimeout = 0 }},
		{"zero handshake timeout", func(c *Config) { c.Sync.HandshakeTimeout = 0 }},
		{"negative transfer timeout", func(c *Config) { c.Sync.TransferTimeout = -time.Second }},
		{"no connect attempts", func(c *Config) { c.Sync.ConnectAttempts = 0 }},
		{"negative pacing", func(c *Config) { c.Sync.ChunksPerSecond = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_LogLevelsCaseInsensitive(t *testing.T) {
	cfg := validConfig()
	cfg.Logger.Level = "DEBUG"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("STORE_PATH", t.TempDir())
	t.Setenv("SYNC_CHUNK_SIZE", "")

	cfg, err := LoadConfig(Overrides{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, 512, cfg.Sync.ChunkSize)
	assert.Equal(t, 15*time.Second, cfg.Sync.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.Sync.HandshakeTimeout)
	assert.Equal(t, 60*time.Second, cfg.Sync.TransferTimeout)
	assert.Equal(t, 3, cfg.Sync.ConnectAttempts)
	assert.Equal(t, "1.0.0", cfg.Sync.AppVersion)
	assert.Equal(t, TransportAuto, cfg.Transport.Kind)
	assert.NotEmpty(t, cfg.Device.Name)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`
# device settings
DEVICE_NAME="Den TV"
SYNC_CHUNK_SIZE=128
STORE_BACKEND=sqlite
`), 0o600))

	t.Setenv("STORE_PATH", dir)
	t.Setenv("SYNC_CHUNK_SIZE", "256")
	t.Setenv("DEVICE_NAME", "")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := LoadConfig(Overrides{EnvFile: envFile, Transport: TransportLoopback})
	require.NoError(t, err)

	assert.Equal(t, "Den TV", cfg.Device.Name)             // .env
	assert.Equal(t, 256, cfg.Sync.ChunkSize)               // env beats .env
	assert.Equal(t, TransportLoopback, cfg.Transport.Kind) // override beats env
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "mediashelf.db"), cfg.StoreFile())
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("STORE_PATH", t.TempDir())
	t.Setenv("SYNC_HANDSHAKE_TIMEOUT", "soon")

	_, err := LoadConfig(Overrides{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/shelf", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "shelf"), got)

	got, err = expandPath("", "/fallback")
	require.NoError(t, err)
	assert.Equal(t, "/fallback", got)
}

func TestGetConfigHelpers(t *testing.T) {
	t.Setenv("MS_TEST_BOOL", "YES")
	t.Setenv("MS_TEST_INT", "notanint")
	t.Setenv("MS_TEST_FLOAT", "2.5")

	assert.True(t, getBoolConfigValue("", "MS_TEST_BOOL", false))
	assert.False(t, getBoolConfigValue("no", "MS_TEST_BOOL", true))
	assert.Equal(t, 7, getIntConfigValue("", "MS_TEST_INT", 7))
	assert.Equal(t, 9, getIntConfigValue("9", "MS_TEST_INT", 7))
	assert.InDelta(t, 2.5, getFloatConfigValue("", "MS_TEST_FLOAT", 0), 0.0001)
}
