// SPDX-License-Identifier: MIT

// Package export writes the registry index file consumed by mirrors and
// static clients. Writes are atomic and durable: fsync before rename.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"

	"github.com/kundajelab/cultivator/internal/log"
	"github.com/kundajelab/cultivator/internal/metrics"
	"github.com/kundajelab/cultivator/internal/registry"
)

// Index is the exported registry snapshot.
type Index struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Count       int            `json:"count"`
	Packages    []IndexPackage `json:"packages"`
}

// IndexPackage summarizes one package in the index.
type IndexPackage struct {
	Name          string                 `json:"name"`
	LatestVersion string                 `json:"latestVersion,omitempty"`
	Versions      []registry.VersionInfo `json:"versions"`
}

// BuildIndex snapshots the registry into an Index.
func BuildIndex(ctx context.Context, store registry.Store) (*Index, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: list packages: %w", err)
	}

	idx := &Index{
		GeneratedAt: time.Now().UTC(),
		Count:       len(names),
		Packages:    make([]IndexPackage, 0, len(names)),
	}
	for _, name := range names {
		versions, err := store.Versions(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("export: versions of %s: %w", name, err)
		}
		pkg := IndexPackage{Name: name, Versions: versions}
		if latest, err := store.Latest(ctx, name); err == nil {
			pkg.LatestVersion = latest.Manifest.Version
		}
		idx.Packages = append(idx.Packages, pkg)
	}
	return idx, nil
}

// WriteIndex builds the index and writes it to path atomically.
func WriteIndex(ctx context.Context, store registry.Store, path string) error {
	start := time.Now()
	logger := log.WithComponentFromContext(ctx, "export")

	idx, err := BuildIndex(ctx, store)
	if err != nil {
		metrics.IncExport("failure")
		return err
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		metrics.IncExport("failure")
		return fmt.Errorf("export: create pending index file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending index file")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		metrics.IncExport("failure")
		return fmt.Errorf("export: encode index: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		metrics.IncExport("failure")
		return fmt.Errorf("export: atomically replace index file: %w", err)
	}

	metrics.IncExport("success")
	metrics.ObserveExportDuration(time.Since(start))
	logger.Info().
		Str(log.FieldEvent, "export.written").
		Str(log.FieldPath, path).
		Int("packages", idx.Count).
		Dur("duration", time.Since(start)).
		Msg("registry index exported")
	return nil
}

// Job periodically exports the index and accepts change triggers.
type Job struct {
	store    registry.Store
	path     string
	interval atomic.Int64 // nanoseconds
	trigger  chan struct{}
	reload   chan struct{}
}

// NewJob creates an export job. Trigger requests between ticks are coalesced.
func NewJob(store registry.Store, path string, interval time.Duration) *Job {
	j := &Job{
		store:   store,
		path:    path,
		trigger: make(chan struct{}, 1),
		reload:  make(chan struct{}, 1),
	}
	j.interval.Store(int64(interval))
	return j
}

// SetInterval changes the tick period at runtime (hot reload). Non-positive
// values are ignored. Never blocks.
func (j *Job) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	j.interval.Store(int64(d))
	select {
	case j.reload <- struct{}{}:
	default:
	}
}

func (j *Job) tickInterval() time.Duration {
	return time.Duration(j.interval.Load())
}

// Trigger requests an export outside the regular interval (after a publish
// or yank). Never blocks.
func (j *Job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// debounce delays triggered exports so publish bursts produce one write.
const debounce = 2 * time.Second

// Run executes the job until ctx is done. An initial export runs at startup.
func (j *Job) Run(ctx context.Context) error {
	logger := log.WithComponent("export")

	if err := WriteIndex(ctx, j.store, j.path); err != nil {
		logger.Warn().Err(err).Msg("initial index export failed")
	}

	ticker := time.NewTicker(j.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.reload:
			ticker.Reset(j.tickInterval())
		case <-ticker.C:
			if err := WriteIndex(ctx, j.store, j.path); err != nil {
				logger.Warn().Err(err).Msg("scheduled index export failed")
			}
		case <-j.trigger:
			select {
			case <-time.After(debounce):
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := WriteIndex(ctx, j.store, j.path); err != nil {
				logger.Warn().Err(err).Msg("triggered index export failed")
			}
		}
	}
}
