package cryptoutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ContentHashLen is the length of a hex-encoded SHA-256 digest.
const ContentHashLen = 64

// IsHexString reports whether s consists entirely of hexadecimal characters
// (0-9, a-f, A-F). It returns true for an empty string — callers should check
// length separately when a minimum size is required.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// ContentHash returns the hex SHA-256 digest of content. This is the
// authoritative change-detection hash for knowledge packets: consumers compare
// hashes, not timestamps, to decide whether source content actually changed.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ValidateContentHash rejects anything that is not a 64-character hex digest.
func ValidateContentHash(hash string) error {
	if len(hash) != ContentHashLen || !IsHexString(hash) {
		return fmt.Errorf("content hash must be %d hex characters (got %d)", ContentHashLen, len(hash))
	}
	return nil
}

// URLDigest returns the hex MD5 digest of a URL, used as a stable cache key.
// MD5 only names a cache slot here, it is not an integrity boundary.
func URLDigest(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
