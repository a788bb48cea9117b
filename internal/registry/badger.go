// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kundajelab/cultivator/internal/manifest"
)

// BadgerStore is the durable Store implementation.
// Key scheme:
//   - releases: key = "pkg:<name>:<version>" (JSON Record)
//
// Name and version are canonical before they reach the store, so keys are
// unambiguous despite the ':' separator (names cannot contain ':').
type BadgerStore struct {
	db *badger.DB
}

const releasePrefix = "pkg:"

func releaseKey(name, version string) []byte {
	return []byte(releasePrefix + name + ":" + version)
}

// OpenBadgerStore opens (or creates) the registry database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("registry: open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// Ping verifies the database is usable. Used by health checks.
func (s *BadgerStore) Ping(ctx context.Context) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		it.Close()
		return nil
	})
}

func (s *BadgerStore) Publish(ctx context.Context, m *manifest.Manifest) (*Record, bool, error) {
	key := releaseKey(m.Name, m.Version)
	digest := m.Digest()

	var out Record
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var existing Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			if existing.Digest != digest {
				return fmt.Errorf("%s %s: %w", m.Name, m.Version, ErrConflict)
			}
			out = existing
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		out = Record{
			Manifest:    *m,
			Digest:      digest,
			ReceiptID:   uuid.New().String(),
			PublishedAt: time.Now().UTC(),
		}
		buf, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		created = true
		return txn.Set(key, buf)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func (s *BadgerStore) Get(ctx context.Context, name, version string) (*Record, error) {
	key := releaseKey(name, version)
	var out Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s %s: %w", name, version, ErrNotFound)
		}
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Versions(ctx context.Context, name string) ([]VersionInfo, error) {
	prefix := []byte(releasePrefix + name + ":")
	var infos []VersionInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			infos = append(infos, VersionInfo{
				Version:     rec.Manifest.Version,
				Yanked:      rec.Yanked,
				PublishedAt: rec.PublishedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	sortVersions(infos)
	return infos, nil
}

func (s *BadgerStore) Latest(ctx context.Context, name string) (*Record, error) {
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

func (s *BadgerStore) List(ctx context.Context) ([]string, error) {
	prefix := []byte(releasePrefix)
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, releasePrefix)
			if idx := strings.LastIndex(rest, ":"); idx > 0 {
				seen[rest[:idx]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *BadgerStore) Yank(ctx context.Context, name, version string) error {
	key := releaseKey(name, version)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.Yanked {
			return nil
		}
		now := time.Now().UTC()
		rec.Yanked = true
		rec.YankedAt = &now
		buf, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s %s: %w", name, version, ErrNotFound)
	}
	return err
}

func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Compile-time interface check.
var _ Store = (*BadgerStore)(nil)
