// SPDX-License-Identifier: MIT

// Package manifest defines the package-manifest data model: the metadata a
// client publishes for one package release (name, version, author, license,
// declared subpackages and dependency constraints), plus canonicalization,
// validation and content digests.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	semver "github.com/Masterminds/semver/v3"
)

// Field length bounds. Manifests are metadata, not payloads.
const (
	MaxNameLen        = 128
	MaxDescriptionLen = 2048
	MaxFieldLen       = 256
	MaxPackages       = 256
	MaxRequires       = 256
)

// Manifest describes a single package release.
type Manifest struct {
	Name        string       `json:"name" yaml:"name"`
	Version     string       `json:"version" yaml:"version"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string       `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorEmail string       `json:"authorEmail,omitempty" yaml:"authorEmail,omitempty"`
	Homepage    string       `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	License     string       `json:"license,omitempty" yaml:"license,omitempty"`
	Packages    []string     `json:"packages,omitempty" yaml:"packages,omitempty"`
	Requires    []Dependency `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// Dependency declares a requirement on another package, constrained to a
// version range in semver constraint syntax (e.g. ">= 1.14.2").
type Dependency struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"constraint" yaml:"constraint"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// CanonicalName normalizes a package name for storage and lookup:
// trims Unicode whitespace and invisible edge characters, lowercases,
// and collapses runs of separators ('-', '_', '.') into single dashes.
func CanonicalName(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '\u200b' || // zero width space
			r == '\u200c' || // zero width non-joiner
			r == '\u200d' || // zero width joiner
			r == '\ufeff' // byte order mark
	})
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	prevSep := false
	for _, r := range s {
		if r == '-' || r == '_' || r == '.' {
			if !prevSep {
				b.WriteByte('-')
			}
			prevSep = true
			continue
		}
		prevSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalVersion normalizes a version string to its parsed semver form
// ("1.0" becomes "1.0.0"). Unparsable input is returned trimmed so lookups
// fail on the original string rather than an empty one.
func CanonicalVersion(s string) string {
	s = strings.TrimSpace(s)
	if v, err := semver.NewVersion(s); err == nil {
		return v.String()
	}
	return s
}

// Canonicalize normalizes the manifest in place: canonical name, trimmed
// fields and canonical dependency names. Version is normalized to its parsed
// semver form ("1.0" becomes "1.0.0").
func (m *Manifest) Canonicalize() {
	m.Name = CanonicalName(m.Name)
	m.Description = strings.TrimSpace(m.Description)
	m.Author = strings.TrimSpace(m.Author)
	m.AuthorEmail = strings.TrimSpace(m.AuthorEmail)
	m.Homepage = strings.TrimSpace(m.Homepage)
	m.License = strings.TrimSpace(m.License)
	m.Version = CanonicalVersion(m.Version)
	for i := range m.Packages {
		m.Packages[i] = strings.TrimSpace(m.Packages[i])
	}
	for i := range m.Requires {
		m.Requires[i].Name = CanonicalName(m.Requires[i].Name)
		m.Requires[i].Constraint = strings.TrimSpace(m.Requires[i].Constraint)
	}
}

// ValidationError reports a single invalid manifest field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a canonicalized manifest. It returns the first violation.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(m.Name) > MaxNameLen {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("longer than %d characters", MaxNameLen)}
	}
	if !namePattern.MatchString(m.Name) {
		return &ValidationError{Field: "name", Reason: "must match " + namePattern.String()}
	}
	if m.Version == "" {
		return &ValidationError{Field: "version", Reason: "must not be empty"}
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return &ValidationError{Field: "version", Reason: err.Error()}
	}
	if len(m.Description) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("longer than %d characters", MaxDescriptionLen)}
	}
	for _, f := range []struct{ name, value string }{
		{"author", m.Author},
		{"authorEmail", m.AuthorEmail},
		{"homepage", m.Homepage},
		{"license", m.License},
	} {
		if len(f.value) > MaxFieldLen {
			return &ValidationError{Field: f.name, Reason: fmt.Sprintf("longer than %d characters", MaxFieldLen)}
		}
	}
	if len(m.Packages) > MaxPackages {
		return &ValidationError{Field: "packages", Reason: fmt.Sprintf("more than %d entries", MaxPackages)}
	}
	if len(m.Requires) > MaxRequires {
		return &ValidationError{Field: "requires", Reason: fmt.Sprintf("more than %d entries", MaxRequires)}
	}

	seen := make(map[string]struct{}, len(m.Requires))
	for i, dep := range m.Requires {
		field := fmt.Sprintf("requires[%d]", i)
		if dep.Name == "" {
			return &ValidationError{Field: field + ".name", Reason: "must not be empty"}
		}
		if !namePattern.MatchString(dep.Name) {
			return &ValidationError{Field: field + ".name", Reason: "must match " + namePattern.String()}
		}
		if dep.Name == m.Name {
			return &ValidationError{Field: field + ".name", Reason: "package cannot require itself"}
		}
		if _, dup := seen[dep.Name]; dup {
			return &ValidationError{Field: field + ".name", Reason: "duplicate dependency " + dep.Name}
		}
		seen[dep.Name] = struct{}{}
		if dep.Constraint == "" {
			return &ValidationError{Field: field + ".constraint", Reason: "must not be empty"}
		}
		if _, err := ParseConstraint(dep.Constraint); err != nil {
			return &ValidationError{Field: field + ".constraint", Reason: err.Error()}
		}
	}
	return nil
}

// ParseConstraint parses a dependency constraint expression.
// The setup.py style ">= 1.14.2" parses unchanged.
func ParseConstraint(expr string) (*semver.Constraints, error) {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("parse constraint %q: %w", expr, err)
	}
	return c, nil
}

// Digest returns the sha256 hex digest of the canonical JSON encoding.
// json.Marshal sorts struct fields deterministically, so the digest is
// stable regardless of the order fields arrived in on the wire.
func (m *Manifest) Digest() string {
	buf, err := json.Marshal(m)
	if err != nil {
		// Manifest contains only marshalable types; treated as unreachable.
		return ""
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
