// Package checksum computes the content digests used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether data hashes to the stored digest. An empty digest
// never matches, so rows written before hashing was recorded are reparsed.
func Equal(data []byte, digest string) bool {
	if digest == "" {
		return false
	}
	return Sum(data) == digest
}
