// Package signature implements the HMAC webhook signing scheme shared with
// the automation engine, plus idempotency-key generation for outbound events.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload. The payload must be
// the exact bytes sent on the wire; the receiver recomputes over the raw body.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for payload. It never
// errors: a malformed or wrong-length signature is simply invalid. The
// comparison is constant-time.
func Verify(payload []byte, sig string, secret string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := mac.Sum(nil)

	return hmac.Equal(got, want)
}

// IdempotencyKey derives the delivery key for an event: "<id>-<epochMillis>".
// createdAt never changes across retries of the same event row, so every
// dispatch attempt carries the same key and the receiver can de-duplicate.
func IdempotencyKey(eventID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", eventID, createdAt.UnixMilli())
}
