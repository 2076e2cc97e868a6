package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks a lowercase-hex HMAC-SHA256 digest of body
// against secret, using constant-time comparison. crypto/hmac and
// crypto/sha256 are stdlib: no HMAC or webhook-signature library
// appears anywhere in the retrieval pack, so there is nothing to adopt
// instead (see DESIGN.md).
func VerifySignature(secret []byte, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}
