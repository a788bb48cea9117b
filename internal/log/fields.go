// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldReceiptID = "receipt_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Registry fields
	FieldPackage = "package"
	FieldVersion = "pkg_version"
	FieldDigest  = "digest"

	// Path fields
	FieldPath = "path"
)
