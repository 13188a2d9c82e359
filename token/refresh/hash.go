package refresh

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns a SHA-256 hash of the refresh token string, hex-encoded.
// Records are keyed by this hash so the plaintext token never touches storage.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
