// Package config provides device configuration with support for command-line
// overrides, environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Transport kinds.
const (
	TransportAuto     = "auto"
	TransportNetwork  = "network"
	TransportLoopback = "loopback"
)

// MinChunkSize is the smallest chunk a sync channel may negotiate.
const MinChunkSize = 64

// Config holds the device configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Store     StoreConfig
	Device    DeviceConfig
	Sync      SyncConfig
	Server    ServerConfig
	Transport TransportConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
	File  string // Optional rotating JSON log file
}

// StoreConfig selects and locates the local record store.
type StoreConfig struct {
	Backend string // badger or sqlite (default: badger)
	Path    string // Data directory (default: ~/MediaShelf/data)
}

// DeviceConfig identifies this device and its user to peers.
type DeviceConfig struct {
	Name    string // Advertised to peers (default: hostname)
	OwnerID string // Owner used when answering incoming sessions
}

// SyncConfig holds peer sync protocol tuning.
type SyncConfig struct {
	AppVersion       string
	ChunkSize        int           // Bytes per chunk (default: 512)
	ConnectTimeout   time.Duration // Bound on each connect attempt (default: 15s)
	HandshakeTimeout time.Duration // Wait for HELLO/SELECT_LIBRARY (default: 15s)
	TransferTimeout  time.Duration // Idle wait during TRANSFER_ITEMS (default: 60s)
	ConnectAttempts  int           // Connect retries (default: 3)
	ChunksPerSecond  float64       // Send pacing, 0 disables (default: 0)
}

// ServerConfig holds the local HTTP listener configuration.
type ServerConfig struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AdvertiseMDNS bool
}

// TransportConfig selects the peer transport.
type TransportConfig struct {
	Kind string // auto, network, or loopback (default: auto)
}

// Overrides carries values set on the command line. Empty fields fall through
// to the environment.
type Overrides struct {
	Environment string
	LogLevel    string
	LogFile     string
	StorePath   string
	Backend     string
	DeviceName  string
	OwnerID     string
	Port        string
	Transport   string
	ChunkSize   string
	EnvFile     string
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line overrides (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(o Overrides) (*Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(envFile)

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mediashelf"
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(o.Environment, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(o.LogLevel, "LOG_LEVEL", "info"),
			File:  getConfigValue(o.LogFile, "LOG_FILE", ""),
		},
		Store: StoreConfig{
			Backend: getConfigValue(o.Backend, "STORE_BACKEND", BackendBadger),
			Path:    getConfigValue(o.StorePath, "STORE_PATH", ""),
		},
		Device: DeviceConfig{
			Name:    getConfigValue(o.DeviceName, "DEVICE_NAME", host),
			OwnerID: getConfigValue(o.OwnerID, "DEVICE_OWNER_ID", ""),
		},
		Sync: SyncConfig{
			AppVersion:      getConfigValue("", "SYNC_APP_VERSION", "1.0.0"),
			ChunkSize:       getIntConfigValue(o.ChunkSize, "SYNC_CHUNK_SIZE", 512),
			ConnectAttempts: getIntConfigValue("", "SYNC_CONNECT_ATTEMPTS", 3),
			ChunksPerSecond: getFloatConfigValue("", "SYNC_CHUNKS_PER_SECOND", 0),
		},
		Server: ServerConfig{
			Port:          getConfigValue(o.Port, "SERVER_PORT", "7420"),
			AdvertiseMDNS: getBoolConfigValue("", "ADVERTISE_MDNS", true),
		},
		Transport: TransportConfig{
			Kind: getConfigValue(o.Transport, "SYNC_TRANSPORT", TransportAuto),
		},
	}

	durations := []struct {
		dst    *time.Duration
		envKey string
		def    string
	}{
		{&cfg.Sync.ConnectTimeout, "SYNC_CONNECT_TIMEOUT", "15s"},
		{&cfg.Sync.HandshakeTimeout, "SYNC_HANDSHAKE_TIMEOUT", "15s"},
		{&cfg.Sync.TransferTimeout, "SYNC_TRANSFER_TIMEOUT", "60s"},
		{&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT", "0s"},
	}
	for _, d := range durations {
		raw := getConfigValue("", d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.envKey), raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandStorePath(); err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Store.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("invalid store backend: %q (must be badger or sqlite)", c.Store.Backend)
	}
	if c.Store.Path == "" {
		return errors.New("store path cannot be empty after expansion")
	}

	switch c.Transport.Kind {
	case TransportAuto, TransportNetwork, TransportLoopback:
	default:
		return fmt.Errorf("invalid transport: %q (must be auto, network, or loopback)", c.Transport.Kind)
	}

	if c.Sync.ChunkSize < MinChunkSize {
		return fmt.Errorf("sync chunk size %d is below the minimum of %d bytes", c.Sync.ChunkSize, MinChunkSize)
	}
	if c.Sync.ConnectTimeout <= 0 || c.Sync.HandshakeTimeout <= 0 || c.Sync.TransferTimeout <= 0 {
		return errors.New("sync timeouts must be positive")
	}
	if c.Sync.ConnectAttempts < 1 {
		return errors.New("sync connect attempts must be at least 1")
	}
	if c.Sync.ChunksPerSecond < 0 {
		return errors.New("sync chunks per second cannot be negative")
	}

	return nil
}

// StoreFile returns the on-disk location of the configured backend.
func (c *Config) StoreFile() string {
	if c.Store.Backend == BackendSQLite {
		return filepath.Join(c.Store.Path, "mediashelf.db")
	}
	return filepath.Join(c.Store.Path, "badger")
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandStorePath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	expanded, err := expandPath(c.Store.Path, filepath.Join(homeDir, "MediaShelf", "data"))
	if err != nil {
		return err
	}
	c.Store.Path = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
