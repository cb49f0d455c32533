package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// ClickHouse sink
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string

	// Session log directories to watch
	LogDirs []string

	// Local storage
	DataDir    string // bolt database lives here
	StagingDir string // uploaded byte streams are spooled here

	// Ingestion
	ChunkLimit     int           // records per parse chunk
	Workers        int           // watcher worker pool size
	RescanInterval time.Duration // watcher periodic rescan
	ReadOnly       bool          // parse and track state, but sink in memory only

	// Parser registry
	ParserOptionsPath string // optional YAML override (threshold, disabled parsers)

	// Observability
	LogLevel        string
	LogFile         string
	MetricsPort     int
	TracingEnabled  bool
	TracingEndpoint string
	TracingProtocol string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ClickHouseHost: getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort: getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "conversations"),

		LogDirs: parsePathList(getEnv("LOG_DIRS", "")),

		DataDir:    getEnv("DATA_DIR", "data"),
		StagingDir: getEnv("STAGING_DIR", "data/staging"),

		ChunkLimit:     getEnvInt("CHUNK_LIMIT", 500),
		Workers:        getEnvInt("WORKERS", 4),
		RescanInterval: time.Duration(getEnvInt("RESCAN_INTERVAL_SECONDS", 30)) * time.Second,
		ReadOnly:       getEnvBool("READ_ONLY", false),

		ParserOptionsPath: getEnv("PARSER_OPTIONS_PATH", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		MetricsPort:     getEnvInt("METRICS_PORT", 9091),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),
		TracingProtocol: getEnv("TRACING_PROTOCOL", "grpc"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.LogDirs) == 0 {
		return fmt.Errorf("LOG_DIRS must list at least one session log directory")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.ChunkLimit < 1 {
		return fmt.Errorf("CHUNK_LIMIT must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1")
	}
	if !c.ReadOnly {
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" {
			return fmt.Errorf("CLICKHOUSE_DB is required")
		}
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parsePathList parses a semicolon-separated list of paths.
func parsePathList(pathsStr string) []string {
	if pathsStr == "" {
		return nil
	}

	paths := strings.Split(pathsStr, ";")
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
