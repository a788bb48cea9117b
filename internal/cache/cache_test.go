// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kundajelab/cultivator/internal/manifest"
	"github.com/kundajelab/cultivator/internal/registry"
)

func testRecord(name, version string) *registry.Record {
	return &registry.Record{
		Manifest: manifest.Manifest{Name: name, Version: version},
		Digest:   "digest-" + version,
	}
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set(Key("cultivator", "0.0.0"), testRecord("cultivator", "0.0.0"), 5*time.Minute)

	rec, ok := c.Get(Key("cultivator", "0.0.0"))
	require.True(t, ok, "expected to find cached record")
	assert.Equal(t, "cultivator", rec.Manifest.Name)

	_, ok = c.Get(Key("ghost", "1.0.0"))
	assert.False(t, ok, "expected miss for unknown key")
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("shortlived", testRecord("numpy", "1.14.2"), 50*time.Millisecond)

	_, ok := c.Get("shortlived")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("key1", testRecord("numpy", "1.14.2"), 5*time.Minute)
	_, ok := c.Get("key1")
	require.True(t, ok)

	c.Invalidate("key1")
	_, ok = c.Get("key1")
	assert.False(t, ok)
}

func TestMemoryCache_ReturnsCopy(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("key1", testRecord("numpy", "1.14.2"), 5*time.Minute)

	first, ok := c.Get("key1")
	require.True(t, ok)
	first.Manifest.Name = "mutated"

	second, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "numpy", second.Manifest.Name)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("a", testRecord("a", "1.0.0"), 5*time.Minute)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	c.Set("a", testRecord("a", "1.0.0"), 5*time.Minute)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.Stats())
}
