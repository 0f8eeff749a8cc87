package util

import (
	"crypto/sha256"
	"fmt"
)

// RequestKey returns a deterministic cache key for an outbound request:
// method + endpoint + a short hash over the canonicalized payload. Identical
// requests always map to the same key regardless of payload map ordering
// upstream (callers must canonicalize before hashing).
func RequestKey(method, endpoint string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%s:%x", method, endpoint, sum[:8])
}
