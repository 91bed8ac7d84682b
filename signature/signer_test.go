package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/RestDB/outhook/signature"
)

func TestSignKnownVector(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"event":"test"}`)
	secret := "whsec_testsecret123"
	timestamp := int64(1700000000)

	got := signer.Sign(payload, secret, timestamp)

	// Compute expected HMAC-SHA256 independently.
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := "v1=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"id":"evt_01h2x","type":"order.created"}`)
	secret := "whsec_roundtripsecret"
	timestamp := time.Now().Unix()

	sig := signer.Sign(payload, secret, timestamp)
	if !signer.Verify(payload, secret, timestamp, sig, 0) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"original":true}`)
	secret := "whsec_tampersecret"
	timestamp := time.Now().Unix()

	sig := signer.Sign(payload, secret, timestamp)

	tampered := []byte(`{"original":false}`)
	if signer.Verify(tampered, secret, timestamp, sig, 0) {
		t.Error("Verify() returned true for tampered payload")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_correct"
	timestamp := time.Now().Unix()

	sig := signer.Sign(payload, secret, timestamp)

	if signer.Verify(payload, "whsec_wrong", timestamp, sig, 0) {
		t.Error("Verify() returned true for wrong secret")
	}
}

func TestVerifyWrongTimestamp(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_timestampsecret"
	timestamp := time.Now().Unix()

	sig := signer.Sign(payload, secret, timestamp)

	if signer.Verify(payload, secret, timestamp+1, sig, 0) {
		t.Error("Verify() returned true for wrong timestamp")
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_stalesecret"

	// Ten minutes old, outside the default five-minute window.
	stale := time.Now().Add(-10 * time.Minute).Unix()
	sig := signer.Sign(payload, secret, stale)

	if signer.Verify(payload, secret, stale, sig, 0) {
		t.Error("Verify() accepted a timestamp outside the tolerance window")
	}
}

func TestVerifyCustomTolerance(t *testing.T) {
	signer := signature.NewSigner()
	payload := []byte(`{"data":"value"}`)
	secret := "whsec_tolerancesecret"

	old := time.Now().Add(-10 * time.Minute).Unix()
	sig := signer.Sign(payload, secret, old)

	if !signer.Verify(payload, secret, old, sig, 15*time.Minute) {
		t.Error("Verify() rejected a timestamp inside a widened window")
	}
	if signer.Verify(payload, secret, old, sig, time.Minute) {
		t.Error("Verify() accepted a timestamp outside a narrowed window")
	}
}

func TestSignatureFormat(t *testing.T) {
	signer := signature.NewSigner()
	sig := signer.Sign([]byte("test"), "secret", 123)

	if len(sig) < 3 || sig[:3] != "v1=" {
		t.Errorf("signature should start with 'v1=', got %q", sig)
	}

	// v1= prefix (3) + 64 hex chars (SHA256 = 32 bytes = 64 hex)
	if len(sig) != 67 {
		t.Errorf("expected signature length 67, got %d", len(sig))
	}
}
