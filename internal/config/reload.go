// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kundajelab/cultivator/internal/log"
)

// Holder owns the current configuration and supports hot reload. Reload
// applies the safe subset live (log level, cache TTL, api token, rate limit
// values, export interval); listener and storage settings, enabling or
// disabling rate limiting, and the per-IP window middleware require a
// restart and are kept from the running config.
type Holder struct {
	current atomic.Pointer[AppConfig]
	loader  *Loader
	path    string

	// onReload callbacks run after a successful reload with the new config.
	onReload []func(AppConfig)
}

// NewHolder creates a holder around an initially loaded config.
func NewHolder(cfg AppConfig, loader *Loader, path string) *Holder {
	h := &Holder{loader: loader, path: path}
	h.current.Store(&cfg)
	return h
}

// Current returns the active configuration snapshot.
func (h *Holder) Current() AppConfig {
	return *h.current.Load()
}

// OnReload registers a callback invoked after each successful reload.
// Not safe to call after Watch has started.
func (h *Holder) OnReload(fn func(AppConfig)) {
	h.onReload = append(h.onReload, fn)
}

// Reload re-runs the loader and swaps in the safe subset of changes.
func (h *Holder) Reload(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "config")

	fresh, err := h.loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("configuration reload rejected")
		return fmt.Errorf("config: reload: %w", err)
	}

	active := h.Current()
	next := active
	next.LogLevel = fresh.LogLevel
	next.CacheTTL = fresh.CacheTTL
	next.RateLimitEnabled = fresh.RateLimitEnabled
	next.RateLimitRPS = fresh.RateLimitRPS
	next.RateLimitBurst = fresh.RateLimitBurst
	next.RateLimitPerIP = fresh.RateLimitPerIP
	next.RateLimitPerIPBurst = fresh.RateLimitPerIPBurst
	next.ExportEnabled = fresh.ExportEnabled
	next.ExportInterval = fresh.ExportInterval
	next.APIToken = fresh.APIToken

	h.current.Store(&next)
	log.SetLevel(next.LogLevel)

	logger.Info().
		Str(log.FieldEvent, "config.reloaded").
		Str("log_level", next.LogLevel).
		Msg("configuration reloaded")

	for _, fn := range h.onReload {
		fn(next)
	}
	return nil
}

// Watch observes the config file and reloads on change until ctx is done.
// Editors replace files rather than writing in place, so the parent
// directory is watched and events are debounced.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	logger := log.WithComponent("config")
	logger.Info().
		Str(log.FieldPath, h.path).
		Msg("watching config file for changes")

	go func() {
		defer func() { _ = watcher.Close() }()

		var debounce *time.Timer
		target := filepath.Clean(h.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					_ = h.Reload(ctx)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
