// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Server    ServerConfig
	Store     StoreConfig
	Enrich    EnrichConfig
	Channel   ChannelConfig
	Providers ProvidersConfig
	Auth      AuthConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Name         string
	Port         string        // Server port (default: 8080)
	PublicURL    string        // Base URL clients use to reach the server (optional)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	// RateLimitRPS / RateLimitBurst configure the per-client inbound
	// limiter. An RPS of 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

// StoreConfig holds job store configuration.
type StoreConfig struct {
	// DataPath is the directory for the badger job store.
	DataPath string
	// Retention is how long results and summaries stay fetchable after a
	// job reaches a terminal status (default: 30m).
	Retention time.Duration
}

// EnrichConfig holds resolver and orchestrator tuning.
type EnrichConfig struct {
	// ProviderTimeout bounds each outbound provider call (default: 8s).
	ProviderTimeout time.Duration
	// SimilarityThreshold is the minimum title/author similarity for a
	// provider result to be accepted (default: 0.55).
	SimilarityThreshold float64
	// ItemConcurrency bounds in-flight resolutions per job (default: 8).
	ItemConcurrency int
	// MaxConcurrentJobs bounds running jobs per process (default: 4).
	MaxConcurrentJobs int
	// Progress coalescing: a write is emitted when the completed fraction
	// advances by CoalesceFraction, or CoalesceItems items complete,
	// whichever first, and never more often than CoalesceMinInterval.
	CoalesceFraction    float64
	CoalesceItems       int
	CoalesceMinInterval time.Duration
}

// ChannelConfig holds progress channel protocol configuration.
type ChannelConfig struct {
	// ReadyTimeout is how long the orchestrator waits for the client's
	// ready signal before proceeding anyway (default: 10s).
	ReadyTimeout time.Duration
	// ReconnectGrace is how long after a disconnect a reconnect still
	// yields a state snapshot (default: 60s).
	ReconnectGrace time.Duration
	// Heartbeat is the stream keepalive interval (default: 30s).
	Heartbeat time.Duration
}

// ProvidersConfig holds metadata provider configuration.
type ProvidersConfig struct {
	OpenLibraryBaseURL string
	GoogleBooksBaseURL string
	// GoogleBooksAPIKey is optional; anonymous requests work with
	// tighter upstream quotas.
	GoogleBooksAPIKey string
}

// AuthConfig holds channel token configuration.
type AuthConfig struct {
	// TokenKey is the PASETO v4 symmetric key for channel tokens (32 bytes).
	// Set by auth.LoadOrGenerateKey in main.
	TokenKey []byte
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for job store data")
	serverName := flag.String("server-name", "", "Name for the server")
	serverPort := flag.String("port", "", "Server port (default: 8080)")
	publicURL := flag.String("public-url", "", "Base URL clients use to reach the server")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	retention := flag.String("result-retention", "", "Result retention after job completion (default: 30m)")
	providerTimeout := flag.String("provider-timeout", "", "Per-provider call timeout (default: 8s)")
	itemConcurrency := flag.String("item-concurrency", "", "In-flight resolutions per job (default: 8)")
	maxJobs := flag.String("max-concurrent-jobs", "", "Concurrent jobs per process (default: 4)")

	readyTimeout := flag.String("ready-timeout", "", "Client ready handshake timeout (default: 10s)")
	reconnectGrace := flag.String("reconnect-grace", "", "Reconnect grace window (default: 60s)")

	googleBooksKey := flag.String("googlebooks-api-key", "", "Google Books API key (optional)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "Stacks Server"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			PublicURL:      getConfigValue(*publicURL, "SERVER_PUBLIC_URL", ""),
			RateLimitRPS:   getFloatConfigValue("", "RATE_LIMIT_RPS", 10),
			RateLimitBurst: getIntConfigValue("", "RATE_LIMIT_BURST", 20),
		},
		Store: StoreConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Enrich: EnrichConfig{
			SimilarityThreshold: getFloatConfigValue("", "SIMILARITY_THRESHOLD", 0.55),
			ItemConcurrency:     getIntConfigValue(*itemConcurrency, "ITEM_CONCURRENCY", 8),
			MaxConcurrentJobs:   getIntConfigValue(*maxJobs, "MAX_CONCURRENT_JOBS", 4),
			CoalesceFraction:    getFloatConfigValue("", "COALESCE_FRACTION", 0.05),
			CoalesceItems:       getIntConfigValue("", "COALESCE_ITEMS", 10),
		},
		Providers: ProvidersConfig{
			OpenLibraryBaseURL: getConfigValue("", "OPENLIBRARY_BASE_URL", "https://openlibrary.org"),
			GoogleBooksBaseURL: getConfigValue("", "GOOGLEBOOKS_BASE_URL", "https://www.googleapis.com/books/v1"),
			GoogleBooksAPIKey:  getConfigValue(*googleBooksKey, "GOOGLEBOOKS_API_KEY", ""),
		},
		Auth: AuthConfig{
			TokenKey: nil, // Set by auth.LoadOrGenerateKey in main
		},
	}

	durations := []struct {
		dst      *time.Duration
		flagVal  string
		envKey   string
		fallback string
		label    string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s", "read timeout"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", "write timeout"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", "idle timeout"},
		{&cfg.Store.Retention, *retention, "RESULT_RETENTION", "30m", "result retention"},
		{&cfg.Enrich.ProviderTimeout, *providerTimeout, "PROVIDER_TIMEOUT", "8s", "provider timeout"},
		{&cfg.Enrich.CoalesceMinInterval, "", "COALESCE_MIN_INTERVAL", "500ms", "coalesce min interval"},
		{&cfg.Channel.ReadyTimeout, *readyTimeout, "READY_TIMEOUT", "10s", "ready timeout"},
		{&cfg.Channel.ReconnectGrace, *reconnectGrace, "RECONNECT_GRACE", "60s", "reconnect grace"},
		{&cfg.Channel.Heartbeat, "", "CHANNEL_HEARTBEAT", "30s", "channel heartbeat"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagVal, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.label, raw, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
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

	if c.Store.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	if c.Enrich.SimilarityThreshold <= 0 || c.Enrich.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v out of range (0, 1]", c.Enrich.SimilarityThreshold)
	}

	if c.Enrich.ItemConcurrency < 1 {
		return fmt.Errorf("item concurrency must be at least 1, got %d", c.Enrich.ItemConcurrency)
	}

	if c.Enrich.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max concurrent jobs must be at least 1, got %d", c.Enrich.MaxConcurrentJobs)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
// Defaults to ~/Stacks/data when unset.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Stacks", "data")

	expanded, err := expandPath(c.Store.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Store.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
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

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
