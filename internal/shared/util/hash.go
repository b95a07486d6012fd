package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns a stable hex identifier for a piece of text.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
