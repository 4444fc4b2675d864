package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the Merchant-Signature value: an HMAC-SHA256 over
// "<timestamp>.<body>" keyed by the subscriber's secret, where
// timestamp is the exact RFC 3339 string also sent as the Timestamp
// header. This matches the Timestamp header value byte-for-byte so a
// merchant can verify without re-deriving a numeric timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received Merchant-Signature header value against
// the expected HMAC for timestamp and body, in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
