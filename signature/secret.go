package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecret creates a cryptographically random signing secret.
// Format: "whsec_" + 32 bytes hex = 70 characters total.
func GenerateSecret() string {
	return "whsec_" + randomHex(32)
}

// NewToken creates a random verification token for handshake requests.
func NewToken() string {
	return "whtok_" + randomHex(16)
}

// NewChallenge creates a random challenge string for handshake requests
// that must be echoed back by the receiver.
func NewChallenge() string {
	return randomHex(24)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("outhook: failed to generate random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}
