// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication. The previous secret is optional and only used
	// during secret rotation so tokens signed with the old secret keep
	// validating until they expire.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Redis. Optional: when empty, the response cache and rate limiter
	// fall back to in-memory stores.
	RedisURL string `koanf:"redis_url"`

	// Listing read path
	ListingCacheTTLSeconds int `koanf:"listing_cache_ttl_seconds"`
	FeaturedHomeLimit      int `koanf:"featured_home_limit"`

	// Optional JSON file overriding scoring point values.
	RankingCalibrationPath string `koanf:"ranking_calibration_path"`

	// Rate limits (requests per minute)
	RateLimitGlobalPerMinute  int `koanf:"rate_limit_global_per_minute"`
	RateLimitAdminPerMinute   int `koanf:"rate_limit_admin_per_minute"`
	RateLimitListingPerMinute int `koanf:"rate_limit_listing_per_minute"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidCacheTTL    = errors.New("LISTING_CACHE_TTL_SECONDS must be positive")
	ErrInvalidSampleRate  = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                      = 8080
	DefaultEnv                       = "development"
	DefaultListingCacheTTLSeconds    = 300
	DefaultFeaturedHomeLimit         = 8
	DefaultRateLimitGlobalPerMinute  = 100
	DefaultRateLimitAdminPerMinute   = 20
	DefaultRateLimitListingPerMinute = 30
	DefaultTracingSampleRate         = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try DETECTORY_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"DETECTORY_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	cacheTTL, ttlErr := getEnvIntOrDefault("LISTING_CACHE_TTL_SECONDS", k.Int("listing_cache_ttl_seconds"), DefaultListingCacheTTLSeconds)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	featuredLimit, featuredErr := getEnvIntOrDefault("FEATURED_HOME_LIMIT", k.Int("featured_home_limit"), DefaultFeaturedHomeLimit)
	if featuredErr != nil {
		loadErrs = append(loadErrs, featuredErr)
	}

	globalLimit, globalErr := getEnvIntOrDefault("RATE_LIMIT_GLOBAL_PER_MINUTE", k.Int("rate_limit_global_per_minute"), DefaultRateLimitGlobalPerMinute)
	if globalErr != nil {
		loadErrs = append(loadErrs, globalErr)
	}

	adminLimit, adminErr := getEnvIntOrDefault("RATE_LIMIT_ADMIN_PER_MINUTE", k.Int("rate_limit_admin_per_minute"), DefaultRateLimitAdminPerMinute)
	if adminErr != nil {
		loadErrs = append(loadErrs, adminErr)
	}

	listingLimit, listingErr := getEnvIntOrDefault("RATE_LIMIT_LISTING_PER_MINUTE", k.Int("rate_limit_listing_per_minute"), DefaultRateLimitListingPerMinute)
	if listingErr != nil {
		loadErrs = append(loadErrs, listingErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	// Parse tracing feature flag from env with default
	tracingEnabled := false
	if k.Exists("tracing_enabled") {
		tracingEnabled = k.Bool("tracing_enabled")
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		// Env var takes precedence over file config
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	// CORS origins: comma-separated env var, or list from file
	corsOrigins := k.Strings("cors_allowed_origins")
	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		corsOrigins = nil
		for _, origin := range strings.Split(val, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				corsOrigins = append(corsOrigins, trimmed)
			}
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                      port,
		Env:                       getEnvOrDefaultMulti([]string{"DETECTORY_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:               getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:                 getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:         getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		RedisURL:                  getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		ListingCacheTTLSeconds:    cacheTTL,
		FeaturedHomeLimit:         featuredLimit,
		RankingCalibrationPath:    getEnvOrKoanf("RANKING_CALIBRATION_PATH", k, "ranking_calibration_path"),
		RateLimitGlobalPerMinute:  globalLimit,
		RateLimitAdminPerMinute:   adminLimit,
		RateLimitListingPerMinute: listingLimit,
		CORSAllowedOrigins:        corsOrigins,
		TracingEnabled:            tracingEnabled,
		TracingEndpoint:           getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:         sampleRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: a zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.ListingCacheTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                          fmt.Sprintf("%d", c.Port),
		"env":                           c.Env,
		"database_url":                  maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":                    maskSecret(c.JWTSecret),
		"jwt_previous_secret":           maskSecret(c.JWTPreviousSecret),
		"redis_url":                     maskDatabaseURL(c.RedisURL),
		"listing_cache_ttl_seconds":     fmt.Sprintf("%d", c.ListingCacheTTLSeconds),
		"featured_home_limit":           fmt.Sprintf("%d", c.FeaturedHomeLimit),
		"ranking_calibration_path":      c.RankingCalibrationPath,
		"rate_limit_global_per_minute":  fmt.Sprintf("%d", c.RateLimitGlobalPerMinute),
		"rate_limit_admin_per_minute":   fmt.Sprintf("%d", c.RateLimitAdminPerMinute),
		"rate_limit_listing_per_minute": fmt.Sprintf("%d", c.RateLimitListingPerMinute),
		"cors_allowed_origins":          strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":               fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":              c.TracingEndpoint,
		"tracing_sample_rate":           fmt.Sprintf("%g", c.TracingSampleRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Supports postgres://, postgresql://, and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
