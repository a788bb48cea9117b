// SPDX-License-Identifier: MIT

// Package version exposes build-time version information.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version   = "0.0.0"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
