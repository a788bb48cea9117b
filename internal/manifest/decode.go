// SPDX-License-Identifier: MIT

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedContentType is returned when a request body is neither JSON
// nor YAML.
var ErrUnsupportedContentType = errors.New("manifest: unsupported content type")

// Decode reads a manifest from r according to the given Content-Type.
// An empty content type defaults to JSON. The result is canonicalized but
// not validated; callers decide when to call Validate.
func Decode(r io.Reader, contentType string) (*Manifest, error) {
	mediaType := "application/json"
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("manifest: parse content type: %w", err)
		}
		mediaType = mt
	}

	var m Manifest
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("manifest: decode json: %w", err)
		}
	case mediaType == "application/yaml" || mediaType == "text/yaml" ||
		mediaType == "application/x-yaml" || strings.HasSuffix(mediaType, "+yaml"):
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("manifest: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}

	m.Canonicalize()
	return &m, nil
}
