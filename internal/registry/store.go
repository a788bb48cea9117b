// SPDX-License-Identifier: MIT

// Package registry stores published package manifests and resolves
// dependency constraints against them.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/kundajelab/cultivator/internal/manifest"
)

var (
	// ErrNotFound is returned when a package or version does not exist.
	ErrNotFound = errors.New("registry: not found")
	// ErrConflict is returned when a version is republished with different content.
	ErrConflict = errors.New("registry: version already published with different content")
)

// Record is a stored package release: the manifest plus publication metadata.
type Record struct {
	Manifest    manifest.Manifest `json:"manifest"`
	Digest      string            `json:"digest"`
	ReceiptID   string            `json:"receiptId"`
	PublishedAt time.Time         `json:"publishedAt"`
	Yanked      bool              `json:"yanked"`
	YankedAt    *time.Time        `json:"yankedAt,omitempty"`
}

// VersionInfo summarizes one published version of a package.
type VersionInfo struct {
	Version     string    `json:"version"`
	Yanked      bool      `json:"yanked"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Store persists package releases. Implementations must treat manifests as
// already canonicalized and validated.
type Store interface {
	// Publish stores a new release. Republishing an identical manifest
	// (same digest) is an idempotent no-op returning the original record
	// and created=false. A digest mismatch returns ErrConflict.
	Publish(ctx context.Context, m *manifest.Manifest) (rec *Record, created bool, err error)

	// Get returns one release, yanked or not.
	Get(ctx context.Context, name, version string) (*Record, error)

	// Versions lists all releases of a package in ascending semver order,
	// including yanked ones.
	Versions(ctx context.Context, name string) ([]VersionInfo, error)

	// Latest returns the highest non-yanked release.
	Latest(ctx context.Context, name string) (*Record, error)

	// List returns all package names in lexicographic order.
	List(ctx context.Context) ([]string, error)

	// Yank tombstones a release. Yanking an already-yanked release is a no-op.
	Yank(ctx context.Context, name, version string) error

	// Count returns the number of distinct packages.
	Count(ctx context.Context) (int, error)

	Close() error
}
