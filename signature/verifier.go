package signature

import (
	"crypto/hmac"
	"time"
)

// DefaultTolerance is the default replay window for timestamp verification.
const DefaultTolerance = 5 * time.Minute

// Verify checks whether the given signature matches the expected HMAC-SHA256
// signature for the payload, secret, and timestamp, and that the timestamp
// falls within the tolerance window around the current time.
//
// Verification fails closed: a timestamp outside the window is rejected
// before the signature is inspected, and signature comparison is
// constant-time (hmac.Equal) so attempts cannot be distinguished by timing.
func (s *Signer) Verify(payload []byte, secret string, timestamp int64, sig string, tolerance time.Duration) bool {
	return Verify(payload, secret, timestamp, sig, tolerance)
}

// Verify checks whether the given signature matches the expected HMAC-SHA256
// signature for the payload, secret, and timestamp, and that the timestamp
// falls within the tolerance window around the current time.
func Verify(payload []byte, secret string, timestamp int64, sig string, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	now := time.Now().Unix()
	window := int64(tolerance / time.Second)
	if timestamp < now-window || timestamp > now+window {
		return false
	}

	expected := Sign(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}
