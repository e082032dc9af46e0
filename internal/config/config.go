package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string   `json:"serverAddress" yaml:"serverAddress"`
	DatabasePath  string   `json:"databasePath" yaml:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl" yaml:"databaseUrl"`
	Security      Security `json:"security" yaml:"security"`
	Client        Client   `json:"client" yaml:"client"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey" yaml:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader" yaml:"apiKeyHeader"`
}

// Client configures the offline-first sync client
type Client struct {
	RemoteURL           string `json:"remoteUrl" yaml:"remoteUrl"`
	LocalStorePath      string `json:"localStorePath" yaml:"localStorePath"`
	ProbeURL            string `json:"probeUrl" yaml:"probeUrl"`
	ProbeTimeoutSeconds int    `json:"probeTimeoutSeconds" yaml:"probeTimeoutSeconds"`
	SyncIntervalSeconds int    `json:"syncIntervalSeconds" yaml:"syncIntervalSeconds"`
	// MaxAttempts is how many failed replays an operation gets before it is dead-lettered
	MaxAttempts     int  `json:"maxAttempts" yaml:"maxAttempts"`
	RealtimeEnabled bool `json:"realtimeEnabled" yaml:"realtimeEnabled"`
}

// ProbeTimeout returns the connectivity probe timeout
func (c Client) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic sync interval; zero disables the timer
func (c Client) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "zene.db",
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		Client: Client{
			RemoteURL:           "http://localhost:5000",
			LocalStorePath:      "zene-local.db",
			ProbeTimeoutSeconds: 5,
			SyncIntervalSeconds: 60,
			MaxAttempts:         8,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := decode(configPath, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if cfg.Client.ProbeURL == "" {
		cfg.Client.ProbeURL = strings.TrimRight(cfg.Client.RemoteURL, "/") + "/health"
	}

	if cfg.Client.LocalStorePath != ":memory:" {
		absPath, err := filepath.Abs(cfg.Client.LocalStorePath)
		if err != nil {
			return nil, err
		}
		cfg.Client.LocalStorePath = absPath
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	if remote := os.Getenv("REMOTE_URL"); remote != "" {
		cfg.Client.RemoteURL = remote
	}
	if path := os.Getenv("LOCAL_STORE_PATH"); path != "" {
		cfg.Client.LocalStorePath = path
	}
	if probe := os.Getenv("PROBE_URL"); probe != "" {
		cfg.Client.ProbeURL = probe
	}
	if v := os.Getenv("PROBE_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Client.ProbeTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("SYNC_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.Client.SyncIntervalSeconds = secs
		}
	}
	if v := os.Getenv("SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Client.MaxAttempts = n
		}
	}
	if enabled := os.Getenv("REALTIME_ENABLED"); enabled != "" {
		cfg.Client.RealtimeEnabled = enabled == "true" || enabled == "1"
	}
}
