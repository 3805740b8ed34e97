package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Fingerprint computes the SHA-256 traceability key stamped on a delivery at
// enqueue time. It embeds the enqueue timestamp, so two logically identical
// messages get distinct keys: this is a trace handle, not a dedup guard.
func Fingerprint(deploymentID, connectionID, source string, at time.Time, payload []byte, message string) string {
	parts := []string{
		deploymentID,
		connectionID,
		source,
		at.UTC().Format(time.RFC3339Nano),
		string(payload),
		message,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
