package sync

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex SHA-256 digest of data. The digest of empty
// input is the ordinary SHA-256 of the empty string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText returns the digest of the UTF-8 bytes of s
func HashText(s string) string {
	return HashBytes([]byte(s))
}
