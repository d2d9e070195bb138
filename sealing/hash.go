package sealing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of b as 64 lowercase hex characters.
// Used for every packaged file and for the canonical manifest bytes; the
// manifest digest of bundle n becomes prev_bundle_hash of bundle n+1.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
