// package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// telegram api credentials (from https://my.telegram.org)
	APIID   int
	APIHash string

	// session
	SessionPath string

	// rate limiting
	RateLimitRPS float64
	RateBurst    int

	// search
	SearchLimit int // max messages fetched per chat in a search

	// logging
	LogLevel string
	LogFile  string
}

// ConfigurationError reports missing or malformed configuration.
// It is always raised before any network call is attempted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Load reads configuration from environment variables, applying optional
// overrides from a YAML file (TGQUERY_CONFIG, default ./tgquery.yaml).
// TELEGRAM_API_ID and TELEGRAM_API_HASH are required.
func Load() (*Config, error) {
	cfg := &Config{
		SessionPath:  getEnv("TGQUERY_SESSION", "tgquery.session"),
		RateLimitRPS: 2.0,
		RateBurst:    1,
		SearchLimit:  getEnvInt("TGQUERY_SEARCH_LIMIT", 100),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
	}

	if path := getEnv("TGQUERY_CONFIG", "tgquery.yaml"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	apiIDStr := os.Getenv("TELEGRAM_API_ID")
	apiHash := os.Getenv("TELEGRAM_API_HASH")
	if apiIDStr == "" || apiHash == "" {
		return nil, &ConfigurationError{Reason: "TELEGRAM_API_ID and TELEGRAM_API_HASH must be set"}
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		return nil, &ConfigurationError{Reason: "TELEGRAM_API_ID must be an integer"}
	}

	cfg.APIID = apiID
	cfg.APIHash = apiHash

	return cfg, nil
}

// fileOverrides mirror the optional tgquery.yaml settings. Zero values
// leave the corresponding Config field untouched.
type fileOverrides struct {
	Session      string  `yaml:"session"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	RateBurst    int     `yaml:"rate_burst"`
	SearchLimit  int     `yaml:"search_limit"`
	LogLevel     string  `yaml:"log_level"`
	LogFile      string  `yaml:"log_file"`
}

// applyFile merges YAML overrides into cfg. A missing file is not an error;
// an unreadable or malformed one is.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ConfigurationError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var f fileOverrides
	if err := yaml.Unmarshal(data, &f); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid YAML in %s: %v", path, err)}
	}

	if f.Session != "" {
		cfg.SessionPath = f.Session
	}
	if f.RateLimitRPS > 0 {
		cfg.RateLimitRPS = f.RateLimitRPS
	}
	if f.RateBurst > 0 {
		cfg.RateBurst = f.RateBurst
	}
	if f.SearchLimit > 0 {
		cfg.SearchLimit = f.SearchLimit
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.LogFile = f.LogFile
	}

	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
