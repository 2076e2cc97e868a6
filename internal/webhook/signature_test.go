package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"call_sid":"abc"}`)
	sig := sign(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Fatalf("expected a correctly signed body to verify")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"call_sid":"abc"}`)
	sig := sign([]byte("shh"), body)

	if VerifySignature([]byte("other-secret"), body, sig) {
		t.Fatalf("expected verification to fail with the wrong secret")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := []byte("shh")
	sig := sign(secret, []byte(`{"call_sid":"abc"}`))

	if VerifySignature(secret, []byte(`{"call_sid":"xyz"}`), sig) {
		t.Fatalf("expected verification to fail for a tampered body")
	}
}

func TestVerifySignature_MalformedHex(t *testing.T) {
	if VerifySignature([]byte("shh"), []byte("body"), "not-hex-at-all-zz") {
		t.Fatalf("expected verification to fail for a malformed signature")
	}
}
