// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with the precedence
// ENV > file > defaults. All environment variables use the CULTIVATOR_ prefix.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Telemetry exporters.
const (
	ExporterGRPC = "grpc"
	ExporterHTTP = "http"
)

// AppConfig is the effective daemon configuration.
type AppConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
	APIToken   string `yaml:"apiToken"`

	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`

	TrustedProxies string `yaml:"trustedProxies"` // CSV of CIDRs

	CacheBackend         string        `yaml:"cacheBackend"` // memory|redis|none
	CacheTTL             time.Duration `yaml:"cacheTTL"`
	CacheCleanupInterval time.Duration `yaml:"cacheCleanupInterval"`
	RedisAddr            string        `yaml:"redisAddr"`
	RedisPassword        string        `yaml:"redisPassword"`
	RedisDB              int           `yaml:"redisDB"`

	RateLimitEnabled    bool `yaml:"rateLimitEnabled"`
	RateLimitRPS        int  `yaml:"rateLimitRPS"`   // global requests/second
	RateLimitBurst      int  `yaml:"rateLimitBurst"` // global burst
	RateLimitPerIP      int  `yaml:"rateLimitPerIP"` // requests/minute per IP
	RateLimitPerIPBurst int  `yaml:"rateLimitPerIPBurst"`

	ExportEnabled  bool          `yaml:"exportEnabled"`
	ExportPath     string        `yaml:"exportPath"`
	ExportInterval time.Duration `yaml:"exportInterval"`

	AuditDBPath string `yaml:"auditDBPath"`

	TelemetryEnabled      bool    `yaml:"telemetryEnabled"`
	TelemetryExporter     string  `yaml:"telemetryExporter"` // grpc|http
	TelemetryEndpoint     string  `yaml:"telemetryEndpoint"`
	TelemetrySamplingRate float64 `yaml:"telemetrySamplingRate"`
	TelemetryEnvironment  string  `yaml:"telemetryEnvironment"`

	// Version is injected by the daemon, not configured.
	Version string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr: ":8080",
		DataDir:    "/var/lib/cultivator",

		LogLevel:   "info",
		LogService: "cultivator",

		CacheBackend:         CacheBackendMemory,
		CacheTTL:             5 * time.Minute,
		CacheCleanupInterval: time.Minute,
		RedisAddr:            "localhost:6379",

		RateLimitEnabled:    true,
		RateLimitRPS:        100,
		RateLimitBurst:      200,
		RateLimitPerIP:      600, // per minute
		RateLimitPerIPBurst: 60,

		ExportEnabled:  true,
		ExportInterval: 15 * time.Minute,

		TelemetryExporter:     ExporterGRPC,
		TelemetrySamplingRate: 0.1,
		TelemetryEnvironment:  "production",
	}
}

// Validate checks the configuration for fail-fast startup.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listenAddr must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: dataDir must not be empty")
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendNone:
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("config: redisAddr required for redis cache backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.CacheBackend)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cacheTTL must be positive")
	}
	if c.RateLimitEnabled {
		if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
			return fmt.Errorf("config: global rate limit values must be positive")
		}
		if c.RateLimitPerIP <= 0 || c.RateLimitPerIPBurst <= 0 {
			return fmt.Errorf("config: per-IP rate limit values must be positive")
		}
	}
	if c.ExportEnabled && c.ExportInterval <= 0 {
		return fmt.Errorf("config: exportInterval must be positive")
	}
	if c.TelemetryEnabled {
		if c.TelemetryExporter != ExporterGRPC && c.TelemetryExporter != ExporterHTTP {
			return fmt.Errorf("config: unsupported telemetry exporter %q", c.TelemetryExporter)
		}
		if strings.TrimSpace(c.TelemetryEndpoint) == "" {
			return fmt.Errorf("config: telemetryEndpoint required when telemetry is enabled")
		}
		if c.TelemetrySamplingRate < 0 || c.TelemetrySamplingRate > 1 {
			return fmt.Errorf("config: telemetrySamplingRate must be within [0,1]")
		}
	}
	return nil
}

// StorePath returns the badger database directory.
func (c *AppConfig) StorePath() string {
	return filepath.Join(c.DataDir, "registry")
}

// EffectiveExportPath returns the index export target, defaulting into DataDir.
func (c *AppConfig) EffectiveExportPath() string {
	if strings.TrimSpace(c.ExportPath) != "" {
		return c.ExportPath
	}
	return filepath.Join(c.DataDir, "index.json")
}

// EffectiveAuditDBPath returns the sqlite audit trail path, defaulting into DataDir.
func (c *AppConfig) EffectiveAuditDBPath() string {
	if strings.TrimSpace(c.AuditDBPath) != "" {
		return c.AuditDBPath
	}
	return filepath.Join(c.DataDir, "audit.db")
}
