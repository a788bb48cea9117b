// SPDX-License-Identifier: MIT

// Command cultivatord runs the cultivator package registry daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kundajelab/cultivator/internal/api"
	"github.com/kundajelab/cultivator/internal/audit"
	"github.com/kundajelab/cultivator/internal/cache"
	"github.com/kundajelab/cultivator/internal/config"
	"github.com/kundajelab/cultivator/internal/export"
	"github.com/kundajelab/cultivator/internal/health"
	"github.com/kundajelab/cultivator/internal/log"
	"github.com/kundajelab/cultivator/internal/ratelimit"
	"github.com/kundajelab/cultivator/internal/registry"
	"github.com/kundajelab/cultivator/internal/telemetry"
	"github.com/kundajelab/cultivator/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		log.WithComponent("daemon").Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Bootstrap logger so config loading failures are visible; reconfigured
	// below once the real level is known.
	log.Configure(log.Config{Level: "info", Service: "cultivator", Version: version.Version})

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.LogService, Version: version.Version})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version.Version).
		Str("listen", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("starting cultivator registry")

	if cfg.APIToken == "" {
		logger.Warn().Msg("no API token configured; publish and yank are open to anyone")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := registry.OpenBadgerStore(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("close registry store")
		}
	}()

	trail, err := audit.OpenSQLiteTrail(cfg.EffectiveAuditDBPath())
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer func() {
		if err := trail.Close(); err != nil {
			logger.Error().Err(err).Msg("close audit trail")
		}
	}()
	auditLogger := audit.NewLogger(trail)

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	healthMgr.RegisterChecker(health.NewPingChecker("registry", store))

	appCache, err := buildCache(cfg, healthMgr)
	if err != nil {
		return err
	}
	if rc, ok := appCache.(*cache.RedisCache); ok {
		defer func() {
			if err := rc.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis cache")
			}
		}()
	}

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "cultivator",
		ServiceVersion: version.Version,
		Environment:    cfg.TelemetryEnvironment,
		ExporterType:   cfg.TelemetryExporter,
		Endpoint:       cfg.TelemetryEndpoint,
		SamplingRate:   cfg.TelemetrySamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	holder := config.NewHolder(cfg, loader, configPath)

	opts := []api.Option{}
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.New(ratelimit.Config{
			GlobalRate:      rate.Limit(cfg.RateLimitRPS),
			GlobalBurst:     cfg.RateLimitBurst,
			PerIPRate:       rate.Limit(cfg.RateLimitPerIP) / 60, // config value is per minute
			PerIPBurst:      cfg.RateLimitPerIPBurst,
			CleanupInterval: 5 * time.Minute,
		})
		opts = append(opts, api.WithRateLimiter(limiter))
	}

	var exportJob *export.Job
	if cfg.ExportEnabled {
		exportJob = export.NewJob(store, cfg.EffectiveExportPath(), cfg.ExportInterval)
		opts = append(opts, api.WithExportJob(exportJob))
	}

	// Push reloaded limits into the running components. Log level, cache
	// TTL and API token are read from the holder per request already.
	holder.OnReload(func(next config.AppConfig) {
		if limiter != nil {
			limiter.SetLimits(
				rate.Limit(next.RateLimitRPS), next.RateLimitBurst,
				rate.Limit(next.RateLimitPerIP)/60, next.RateLimitPerIPBurst,
			)
		}
		if exportJob != nil {
			exportJob.SetInterval(next.ExportInterval)
		}
	})

	server := api.NewServer(holder, store, appCache, auditLogger, healthMgr, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if exportJob != nil {
		g.Go(func() error {
			if err := exportJob.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if configPath != "" {
		if err := holder.Watch(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			return watchSIGHUP(gctx, holder, auditLogger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("cultivator registry stopped")
	return nil
}

func buildCache(cfg config.AppConfig, healthMgr *health.Manager) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, *log.WithComponent("cache"))
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		healthMgr.RegisterChecker(health.NewPingChecker("redis", health.PingFunc(rc.HealthCheck)))
		return rc, nil
	case "none":
		return cache.NewNoOpCache(), nil
	default:
		return cache.NewMemoryCache(cfg.CacheCleanupInterval), nil
	}
}

// watchSIGHUP reloads configuration on SIGHUP, the conventional signal for
// daemons with a config file.
func watchSIGHUP(ctx context.Context, holder *config.Holder, auditLogger *audit.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hup:
			err := holder.Reload(ctx)
			auditLogger.ConfigReload(ctx, "sighup", err)
		}
	}
}
