// Package evidence is a content-addressed store for the off-envelope material
// that envelopes commit to by hash: simulation evidence, redacted traces and
// encrypted disclosures.
//
// Blobs are keyed by the lower-case SHA-256 hex of their bytes, the same form
// used for evidenceHash and traceHash, so a consumer holding an envelope can
// fetch exactly the material it names and check it.
package evidence

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
)

// ErrNotFound is returned when no blob exists for a digest.
var ErrNotFound = errors.New("evidence not found")

// Store is the CAS contract shared by every backend.
type Store interface {
	// Put persists data and returns its digest. Storing the same bytes twice is
	// a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the blob for digest or ErrNotFound.
	Get(ctx context.Context, digest string) ([]byte, error)
	Exists(ctx context.Context, digest string) (bool, error)
}

// PutCanonical canonicalizes v and stores the canonical bytes. For JSON values
// the returned digest equals canonicalize.CanonicalHash(v).
func PutCanonical(ctx context.Context, s Store, v any) (*canonicalize.Artifact, error) {
	art, err := canonicalize.Canonicalize(v)
	if err != nil {
		return nil, err
	}
	digest, err := s.Put(ctx, art.CanonicalBytes)
	if err != nil {
		return nil, err
	}
	if digest != art.Digest {
		return nil, fmt.Errorf("evidence: store returned digest %s for %s", digest, art.Digest)
	}
	return art, nil
}

// GetVerified fetches digest and rejects a blob whose bytes no longer hash to it.
func GetVerified(ctx context.Context, s Store, digest string) ([]byte, error) {
	data, err := s.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	if got := canonicalize.HashBytes(data); got != digest {
		return nil, acterr.New(acterr.KindIntegrity, "evidence.Get", "evidence_hash_mismatch",
			fmt.Sprintf("want %s got %s", digest, got))
	}
	return data, nil
}

func checkDigest(op, digest string) error {
	if !canonicalize.IsHexDigest(digest) {
		return acterr.Validation(op, "malformed digest %q", digest)
	}
	return nil
}

func blobName(prefix, digest string) string {
	return prefix + digest + ".blob"
}
