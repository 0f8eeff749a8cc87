package client

import (
	"crypto/rand"
	"encoding/hex"
)

// newTraceparent builds a W3C traceparent header value with random trace and
// span ids and the sampled flag set.
func newTraceparent() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return "00-" + hex.EncodeToString(b[:16]) + "-" + hex.EncodeToString(b[16:]) + "-01"
}
