package canonicalize

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Artifact is a canonicalized blob ready for content-addressed storage.
type Artifact struct {
	ContentType    string
	CanonicalBytes []byte
	Digest         string // SHA-256 hex of CanonicalBytes
}

// Canonicalize converts a raw value into a canonical Artifact.
// Text is NFC-normalised, bytes pass through, anything else is JCS JSON.
func Canonicalize(raw interface{}) (*Artifact, error) {
	var canonicalBytes []byte
	var contentType string

	switch v := raw.(type) {
	case string:
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("invalid UTF-8 string")
		}
		contentType = "text/plain"
		canonicalBytes = []byte(norm.NFC.String(v))
	case []byte:
		contentType = "application/octet-stream"
		canonicalBytes = v
	default:
		contentType = "application/json"
		b, err := JCS(v)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize as JSON: %w", err)
		}
		canonicalBytes = b
	}

	return &Artifact{
		ContentType:    contentType,
		CanonicalBytes: canonicalBytes,
		Digest:         HashBytes(canonicalBytes),
	}, nil
}
