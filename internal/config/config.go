package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pos-offline-sync/internal/utils"
)

const (
	DefaultSyncInterval   = 5 * time.Minute
	DefaultProbeInterval  = 15 * time.Second
	DefaultRemoteTimeout  = 10 * time.Second
	DefaultMaxSaleRetries = 5
)

// Config holds all configuration for the sync daemon
type Config struct {
	Port            string
	Environment     string
	LogLevel        string
	APIKeys         string
	RemoteAPIURL    string
	RemoteAPIToken  string
	RemoteTimeout   string
	StoreDriver     string
	DataDir         string
	SyncInterval    string
	ProbeInterval   string
	MaxSaleRetries  string
	MetricsExporter string
	MetricsPort     string

	RateLimitEnabled           string
	RateLimitRequestsPerMinute string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() *Config {
	// Existing environment variables win over .env entries
	err := godotenv.Load()
	if err != nil {
		slog.Warn("Could not load .env file, continuing with system environment variables only", "error", err)
	} else {
		slog.Info("Successfully loaded .env file")
	}

	config := FromEnv()

	utils.SetupLogging(config.LogLevel)

	slog.Info("Configuration loaded",
		"port", config.Port,
		"environment", config.Environment,
		"logLevel", config.LogLevel,
		"remoteApiUrl", config.RemoteAPIURL,
		"remoteTimeout", config.RemoteTimeout,
		"storeDriver", config.StoreDriver,
		"dataDir", config.DataDir,
		"syncInterval", config.SyncInterval,
		"probeInterval", config.ProbeInterval,
		"maxSaleRetries", config.MaxSaleRetries,
		"metricsExporter", config.MetricsExporter,
		"rateLimitEnabled", config.RateLimitEnabled)

	return config
}

// FromEnv reads the configuration from the process environment only
func FromEnv() *Config {
	return &Config{
		Port:            getEnvWithDefault("PORT", "8090"),
		Environment:     getEnvWithDefault("ENVIRONMENT", "development"),
		LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
		APIKeys:         getEnvWithDefault("API_KEYS", "pos-terminal-key,demo"),
		RemoteAPIURL:    getEnvWithDefault("REMOTE_API_URL", "http://localhost:8091"),
		RemoteAPIToken:  getEnvWithDefault("REMOTE_API_TOKEN", "demo-token"),
		RemoteTimeout:   getEnvWithDefault("REMOTE_TIMEOUT", DefaultRemoteTimeout.String()),
		StoreDriver:     getEnvWithDefault("STORE_DRIVER", "file"),
		DataDir:         getEnvWithDefault("DATA_DIR", "./data"),
		SyncInterval:    getEnvWithDefault("SYNC_INTERVAL", DefaultSyncInterval.String()),
		ProbeInterval:   getEnvWithDefault("PROBE_INTERVAL", DefaultProbeInterval.String()),
		MaxSaleRetries:  getEnvWithDefault("MAX_SALE_RETRIES", strconv.Itoa(DefaultMaxSaleRetries)),
		MetricsExporter: getEnvWithDefault("METRICS_EXPORTER", "none"),
		MetricsPort:     getEnvWithDefault("METRICS_PORT", "9080"),

		RateLimitEnabled:           getEnvWithDefault("RATE_LIMIT_ENABLED", "true"),
		RateLimitRequestsPerMinute: getEnvWithDefault("RATE_LIMIT_REQUESTS_PER_MINUTE", "120"),
	}
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyList splits API_KEYS into trimmed, non-empty keys
func (c *Config) APIKeyList() []string {
	var keys []string
	for _, key := range strings.Split(c.APIKeys, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *Config) SyncIntervalDuration() time.Duration {
	return parseDuration("SYNC_INTERVAL", c.SyncInterval, DefaultSyncInterval)
}

func (c *Config) ProbeIntervalDuration() time.Duration {
	return parseDuration("PROBE_INTERVAL", c.ProbeInterval, DefaultProbeInterval)
}

func (c *Config) RemoteTimeoutDuration() time.Duration {
	return parseDuration("REMOTE_TIMEOUT", c.RemoteTimeout, DefaultRemoteTimeout)
}

// MaxSaleRetriesInt returns the retry cap; non-positive values fall back to the default
func (c *Config) MaxSaleRetriesInt() int {
	n, err := strconv.Atoi(strings.TrimSpace(c.MaxSaleRetries))
	if err != nil || n <= 0 {
		slog.Warn("Invalid MAX_SALE_RETRIES, using default", "value", c.MaxSaleRetries, "default", DefaultMaxSaleRetries)
		return DefaultMaxSaleRetries
	}
	return n
}

func parseDuration(key, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration, using default", "key", key, "value", value, "default", fallback.String())
		return fallback
	}
	return d
}
