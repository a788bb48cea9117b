// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kundajelab/cultivator/internal/log"
)

// ParseString reads a string from an environment variable or returns the
// default. Sensitive values (token, password) are never logged.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists && value != "" {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password") {
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		} else {
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the
// default. Falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from an environment variable or returns the
// default. Accepts the strconv.ParseBool forms.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration from an environment variable or returns
// the default. Falls back to default on parse errors.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment, using default")
	}
	return defaultValue
}

// ParseFloat reads a float from an environment variable or returns the default.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment, using default")
	}
	return defaultValue
}

// applyEnv overlays CULTIVATOR_* environment variables onto cfg.
func applyEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("CULTIVATOR_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("CULTIVATOR_DATA", cfg.DataDir)
	cfg.APIToken = ParseString("CULTIVATOR_API_TOKEN", cfg.APIToken)

	cfg.LogLevel = ParseString("CULTIVATOR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("CULTIVATOR_LOG_SERVICE", cfg.LogService)

	cfg.TrustedProxies = ParseString("CULTIVATOR_TRUSTED_PROXIES", cfg.TrustedProxies)

	cfg.CacheBackend = ParseString("CULTIVATOR_CACHE_BACKEND", cfg.CacheBackend)
	cfg.CacheTTL = ParseDuration("CULTIVATOR_CACHE_TTL", cfg.CacheTTL)
	cfg.CacheCleanupInterval = ParseDuration("CULTIVATOR_CACHE_CLEANUP_INTERVAL", cfg.CacheCleanupInterval)
	cfg.RedisAddr = ParseString("CULTIVATOR_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("CULTIVATOR_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("CULTIVATOR_REDIS_DB", cfg.RedisDB)

	cfg.RateLimitEnabled = ParseBool("CULTIVATOR_RATELIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPS = ParseInt("CULTIVATOR_RATELIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("CULTIVATOR_RATELIMIT_BURST", cfg.RateLimitBurst)
	cfg.RateLimitPerIP = ParseInt("CULTIVATOR_RATELIMIT_PER_IP", cfg.RateLimitPerIP)
	cfg.RateLimitPerIPBurst = ParseInt("CULTIVATOR_RATELIMIT_PER_IP_BURST", cfg.RateLimitPerIPBurst)

	cfg.ExportEnabled = ParseBool("CULTIVATOR_EXPORT_ENABLED", cfg.ExportEnabled)
	cfg.ExportPath = ParseString("CULTIVATOR_EXPORT_PATH", cfg.ExportPath)
	cfg.ExportInterval = ParseDuration("CULTIVATOR_EXPORT_INTERVAL", cfg.ExportInterval)

	cfg.AuditDBPath = ParseString("CULTIVATOR_AUDIT_DB", cfg.AuditDBPath)

	cfg.TelemetryEnabled = ParseBool("CULTIVATOR_TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	cfg.TelemetryExporter = ParseString("CULTIVATOR_TELEMETRY_EXPORTER", cfg.TelemetryExporter)
	cfg.TelemetryEndpoint = ParseString("CULTIVATOR_TELEMETRY_ENDPOINT", cfg.TelemetryEndpoint)
	cfg.TelemetrySamplingRate = ParseFloat("CULTIVATOR_TELEMETRY_SAMPLING_RATE", cfg.TelemetrySamplingRate)
	cfg.TelemetryEnvironment = ParseString("CULTIVATOR_TELEMETRY_ENVIRONMENT", cfg.TelemetryEnvironment)
}
