// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"fmt"
	"sort"

	semver "github.com/Masterminds/semver/v3"

	"github.com/kundajelab/cultivator/internal/manifest"
)

// Resolve returns the highest non-yanked version of name that satisfies the
// constraint expression. It returns ErrNotFound when the package is unknown
// or no version satisfies the constraint.
func Resolve(ctx context.Context, s Store, name, constraint string) (*Record, error) {
	c, err := manifest.ParseConstraint(constraint)
	if err != nil {
		return nil, err
	}

	versions, err := s.Versions(ctx, name)
	if err != nil {
		return nil, err
	}

	// Versions is ascending; walk from the top for the highest match.
	for i := len(versions) - 1; i >= 0; i-- {
		info := versions[i]
		if info.Yanked {
			continue
		}
		v, err := semver.NewVersion(info.Version)
		if err != nil {
			// Stored versions are canonical; skip anything that is not.
			continue
		}
		if c.Check(v) {
			return s.Get(ctx, name, info.Version)
		}
	}
	return nil, fmt.Errorf("resolve %s %q: %w", name, constraint, ErrNotFound)
}

// sortVersions orders infos ascending by semver. Shared by store
// implementations so Versions has one ordering everywhere.
func sortVersions(infos []VersionInfo) {
	parsed := make(map[string]*semver.Version, len(infos))
	for _, info := range infos {
		if v, err := semver.NewVersion(info.Version); err == nil {
			parsed[info.Version] = v
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		a, okA := parsed[infos[i].Version]
		b, okB := parsed[infos[j].Version]
		if !okA || !okB {
			return infos[i].Version < infos[j].Version
		}
		return a.LessThan(b)
	})
}
