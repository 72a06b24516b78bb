package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 returns the hex SHA-256 of a fetched body, used to spot unchanged pages
func ContentSHA256(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
