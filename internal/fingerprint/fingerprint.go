package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// Digest is the deterministic fingerprint of an evidence payload. The hash
// is the immutable proof later bound to the ticket; the locator returned by
// content storage is display-only.
type Digest struct {
	Hash      string
	SizeBytes int64
}

// Service computes content fingerprints. It performs no network I/O;
// upload and anchoring are the caller's concern.
type Service struct {
	maxPayloadBytes int64
}

// NewService constructs a fingerprint service enforcing the given payload
// ceiling. A non-positive ceiling disables the limit.
func NewService(maxPayloadBytes int64) *Service {
	return &Service{maxPayloadBytes: maxPayloadBytes}
}

// Fingerprint hashes the exact bytes supplied with SHA-256 and returns the
// hex digest. Identical bytes always yield an identical hash.
func (s *Service) Fingerprint(data []byte) (Digest, error) {
	size := int64(len(data))
	if s.maxPayloadBytes > 0 && size > s.maxPayloadBytes {
		return Digest{}, apperrors.NewPayloadTooLarge(size, s.maxPayloadBytes)
	}
	sum := sha256.Sum256(data)
	return Digest{
		Hash:      hex.EncodeToString(sum[:]),
		SizeBytes: size,
	}, nil
}
