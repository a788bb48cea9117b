// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kundajelab/cultivator/internal/manifest"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	packages map[string]map[string]*Record // name -> version -> record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{packages: make(map[string]map[string]*Record)}
}

func (s *MemoryStore) Publish(ctx context.Context, m *manifest.Manifest) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.packages[m.Name]
	if !ok {
		versions = make(map[string]*Record)
		s.packages[m.Name] = versions
	}

	digest := m.Digest()
	if existing, ok := versions[m.Version]; ok {
		if existing.Digest == digest {
			out := *existing
			return &out, false, nil
		}
		return nil, false, fmt.Errorf("%s %s: %w", m.Name, m.Version, ErrConflict)
	}

	rec := &Record{
		Manifest:    *m,
		Digest:      digest,
		ReceiptID:   uuid.New().String(),
		PublishedAt: time.Now().UTC(),
	}
	versions[m.Version] = rec
	out := *rec
	return &out, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, name, version string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.packages[name][version]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", name, version, ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) Versions(ctx context.Context, name string) ([]VersionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.packages[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	infos := make([]VersionInfo, 0, len(versions))
	for _, rec := range versions {
		infos = append(infos, VersionInfo{
			Version:     rec.Manifest.Version,
			Yanked:      rec.Yanked,
			PublishedAt: rec.PublishedAt,
		})
	}
	sortVersions(infos)
	return infos, nil
}

func (s *MemoryStore) Latest(ctx context.Context, name string) (*Record, error) {
	infos, err := s.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		if !infos[i].Yanked {
			return s.Get(ctx, name, infos[i].Version)
		}
	}
	return nil, fmt.Errorf("%s: no non-yanked versions: %w", name, ErrNotFound)
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.packages))
	for name := range s.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Yank(ctx context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.packages[name][version]
	if !ok {
		return fmt.Errorf("%s %s: %w", name, version, ErrNotFound)
	}
	if rec.Yanked {
		return nil
	}
	now := time.Now().UTC()
	rec.Yanked = true
	rec.YankedAt = &now
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packages), nil
}

func (s *MemoryStore) Close() error { return nil }

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
