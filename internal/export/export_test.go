// SPDX-License-Identifier: MIT

package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kundajelab/cultivator/internal/manifest"
	"github.com/kundajelab/cultivator/internal/registry"
)

func publishTestManifest(t *testing.T, store registry.Store, name, version string) {
	t.Helper()
	m := &manifest.Manifest{Name: name, Version: version}
	m.Canonicalize()
	_, _, err := store.Publish(context.Background(), m)
	require.NoError(t, err)
}

func TestWriteIndex(t *testing.T) {
	store := registry.NewMemoryStore()
	publishTestManifest(t, store, "cultivator", "0.0.0")
	publishTestManifest(t, store, "numpy", "1.14.2")
	publishTestManifest(t, store, "numpy", "1.16.0")

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, WriteIndex(context.Background(), store, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var idx Index
	require.NoError(t, json.Unmarshal(raw, &idx))

	assert.Equal(t, 2, idx.Count)
	require.Len(t, idx.Packages, 2)

	byName := map[string]IndexPackage{}
	for _, p := range idx.Packages {
		byName[p.Name] = p
	}
	assert.Equal(t, "0.0.0", byName["cultivator"].LatestVersion)
	assert.Equal(t, "1.16.0", byName["numpy"].LatestVersion)
	assert.Len(t, byName["numpy"].Versions, 2)
	assert.False(t, idx.GeneratedAt.IsZero())
}

func TestWriteIndexEmptyRegistry(t *testing.T) {
	store := registry.NewMemoryStore()
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, WriteIndex(context.Background(), store, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var idx Index
	require.NoError(t, json.Unmarshal(raw, &idx))
	assert.Zero(t, idx.Count)
	assert.Empty(t, idx.Packages)
}

func TestWriteIndexReplacesExisting(t *testing.T) {
	store := registry.NewMemoryStore()
	publishTestManifest(t, store, "cultivator", "0.0.0")

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	require.NoError(t, WriteIndex(context.Background(), store, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var idx Index
	require.NoError(t, json.Unmarshal(raw, &idx))
	assert.Equal(t, 1, idx.Count)
}

func TestJobTriggerDoesNotBlock(t *testing.T) {
	job := NewJob(registry.NewMemoryStore(), filepath.Join(t.TempDir(), "index.json"), time.Minute)
	for range 10 {
		job.Trigger()
	}
}

func TestJobSetIntervalTakesEffect(t *testing.T) {
	store := registry.NewMemoryStore()
	publishTestManifest(t, store, "cultivator", "0.0.0")

	path := filepath.Join(t.TempDir(), "index.json")
	job := NewJob(store, path, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = job.Run(ctx)
	}()

	// Wait for the startup export, then add a package the hourly tick
	// would not pick up in time.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	publishTestManifest(t, store, "numpy", "1.14.2")

	job.SetInterval(10 * time.Millisecond)

	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		var idx Index
		if err := json.Unmarshal(raw, &idx); err != nil {
			return false
		}
		return idx.Count == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestJobSetIntervalIgnoresNonPositive(t *testing.T) {
	job := NewJob(registry.NewMemoryStore(), filepath.Join(t.TempDir(), "index.json"), time.Minute)
	job.SetInterval(0)
	job.SetInterval(-time.Second)
	assert.Equal(t, time.Minute, job.tickInterval())
}
